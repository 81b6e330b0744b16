package fieldmap

import (
	"testing"

	"github.com/you-humble/degreegen/internal/domain"

	qt "github.com/frankban/quicktest"
)

func fullRecord() domain.Record {
	r := domain.Record{}
	for _, k := range SourceKeys() {
		r[k] = "v-" + k
	}
	return r
}

func TestMapRenamesKeys(t *testing.T) {
	c := qt.New(t)

	got := Map(fullRecord())

	c.Assert(got, qt.HasLen, len(Pairs))
	c.Check(got["entryNumber"], qt.Equals, "v-entryno")
	c.Check(got["degreeGPA"], qt.Equals, "v-degree_gpa")
	c.Check(got["givenYear"], qt.Equals, "v-given_year")
	c.Check(got["name_hindi"], qt.Equals, "v-name_hindi")
}

func TestMapMissingKeysBecomeEmpty(t *testing.T) {
	c := qt.New(t)

	got := Map(domain.Record{"entryno": "E001", "unrelated": "x"})

	c.Assert(got, qt.HasLen, len(Pairs))
	for _, p := range Pairs {
		v, ok := got[p[1]]
		c.Check(ok, qt.IsTrue, qt.Commentf("field %s missing", p[1]))
		if p[0] != "entryno" {
			c.Check(v, qt.Equals, "", qt.Commentf("field %s", p[1]))
		}
	}
	c.Check(got["entryNumber"], qt.Equals, "E001")
	_, leaked := got["unrelated"]
	c.Check(leaked, qt.IsFalse)
}

func TestMapNilRecord(t *testing.T) {
	c := qt.New(t)

	got := Map(nil)
	c.Assert(got, qt.HasLen, len(Pairs))
	c.Check(got["name"], qt.Equals, "")
}

func TestMapIsIdempotent(t *testing.T) {
	c := qt.New(t)

	r := fullRecord()
	delete(r, "convo_day")

	first := Map(r)
	second := Map(r)
	c.Check(first, qt.DeepEquals, second)
	c.Check(r, qt.HasLen, len(Pairs)-1, qt.Commentf("input must not be modified"))
}
