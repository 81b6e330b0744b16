package recordstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/you-humble/degreegen/internal/domain"

	qt "github.com/frankban/quicktest"
)

var selection = domain.Selection{SessionPK: "19", ProgrammePK: "1", SemesterPK: "2"}

func newStore(c *qt.C) *gormRecordStore {
	db, err := Open(Config{
		Driver: "sqlite",
		DSN:    fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(c.Name(), "/", "_")),
	})
	c.Assert(err, qt.IsNil)

	sqlDB, err := db.DB()
	c.Assert(err, qt.IsNil)
	c.Cleanup(func() { _ = sqlDB.Close() })

	schema, err := os.ReadFile("testdata/schema.sql")
	c.Assert(err, qt.IsNil)
	for _, stmt := range strings.Split(string(schema), ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		c.Assert(db.Exec(stmt).Error, qt.IsNil, qt.Commentf("%s", stmt))
	}

	return NewGormRecordStore(db)
}

func TestGraduates(t *testing.T) {
	c := qt.New(t)
	s := newStore(c)

	records, err := s.Graduates(context.Background(), selection)
	c.Assert(err, qt.IsNil)
	c.Assert(records, qt.HasLen, 2)

	c.Assert(records[0], qt.DeepEquals, domain.Record{
		"entryno":           "2020CS10001",
		"name":              "Asha Rao",
		"name_hindi":        "आशा राव",
		"degree_gpa":        "8.25",
		"degree_name":       "Bachelor of Technology",
		"spec_name":         "Computer Science",
		"degree_name_hindi": "प्रौद्योगिकी स्नातक",
		"spec_name_hindi":   "कंप्यूटर विज्ञान",
		"given_year":        "2024",
		"given_month":       "August",
		"given_day":         "10",
		"convo_year":        "2024",
		"convo_day":         "10",
		"completion_year":   "2024",
		"convo_month_hindi": "अगस्त",
	})
	// dgpa takes precedence over cpi when present.
	c.Assert(records[1]["entryno"], qt.Equals, "2020CS10002")
	c.Assert(records[1]["degree_gpa"], qt.Equals, "7.75")
}

func TestByEntriesKeepsOrderAndSkipsUnknown(t *testing.T) {
	c := qt.New(t)
	s := newStore(c)

	records, err := s.ByEntries(context.Background(), selection,
		[]string{"2020CS10002", "missing", "2020CS10003", "2020CS10001", "2020CS10002"})
	c.Assert(err, qt.IsNil)
	c.Assert(records, qt.HasLen, 2)
	c.Assert(records[0]["entryno"], qt.Equals, "2020CS10002")
	c.Assert(records[1]["entryno"], qt.Equals, "2020CS10001")
}

func TestByEntriesValidation(t *testing.T) {
	c := qt.New(t)
	s := newStore(c)
	ctx := context.Background()

	_, err := s.ByEntries(ctx, selection, nil)
	c.Assert(errors.Is(err, domain.ErrNoEntries), qt.IsTrue)

	_, err = s.ByEntries(ctx, selection, []string{" ", ""})
	c.Assert(errors.Is(err, domain.ErrNoEntries), qt.IsTrue)

	_, err = s.ByEntries(ctx, domain.Selection{SessionPK: "19"}, []string{"2020CS10001"})
	c.Assert(errors.Is(err, domain.ErrIncompleteFilter), qt.IsTrue)

	_, err = s.Graduates(ctx, domain.Selection{SessionPK: "x", ProgrammePK: "1", SemesterPK: "2"})
	c.Assert(errors.Is(err, domain.ErrIncompleteFilter), qt.IsTrue)
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	c := qt.New(t)
	_, err := Open(Config{Driver: "oracle"})
	c.Assert(err, qt.ErrorMatches, `unsupported database driver "oracle"`)
}

func TestStringifyFollowsPointers(t *testing.T) {
	c := qt.New(t)

	gpa := 8.25
	name := "Asha"
	var boxed any = int64(42)
	var nilFloat *float64
	var boxedPtr any = &gpa
	given := time.Date(2024, 8, 3, 0, 0, 0, 0, time.UTC)

	for _, tc := range []struct {
		name string
		in   any
		want string
	}{
		{"float pointer", &gpa, "8.25"},
		{"string pointer", &name, "Asha"},
		{"boxed int", &boxed, "42"},
		{"boxed pointer", &boxedPtr, "8.25"},
		{"nil pointer", nilFloat, ""},
		{"bytes", []byte("IIT"), "IIT"},
		{"time pointer", &given, "2024-08-03"},
		{"nil", nil, ""},
	} {
		c.Run(tc.name, func(c *qt.C) {
			c.Check(stringify(tc.in), qt.Equals, tc.want)
		})
	}
}
