package catalog

import (
	"testing"

	qt "github.com/frankban/quicktest"
)

func TestListsHaveUniqueKeys(t *testing.T) {
	c := qt.New(t)

	seen := map[int]bool{}
	for _, s := range Sessions() {
		c.Check(seen[s.PK], qt.IsFalse, qt.Commentf("session pk %d", s.PK))
		seen[s.PK] = true
	}
	c.Assert(seen, qt.HasLen, 20)

	seen = map[int]bool{}
	for _, p := range Programmes() {
		c.Check(seen[p.PK], qt.IsFalse, qt.Commentf("programme pk %d", p.PK))
		seen[p.PK] = true
	}
	c.Assert(seen, qt.HasLen, 23)

	c.Assert(Semesters(), qt.DeepEquals, []Semester{{1, "Odd"}, {2, "Even"}, {3, "Summer"}})
}

func TestReturnsCopies(t *testing.T) {
	c := qt.New(t)

	s := Sessions()
	s[0].Name = "changed"
	c.Assert(Sessions()[0].Name, qt.Equals, "2017-2018")
}
