// Package fieldmap renames graduate records to the field names used by the
// certificate template.
package fieldmap

import "github.com/you-humble/degreegen/internal/domain"

// Pairs is the source column -> template field table, in template order.
var Pairs = [...][2]string{
	{"entryno", "entryNumber"},
	{"name", "name"},
	{"name_hindi", "name_hindi"},
	{"spec_name", "spec_name"},
	{"spec_name_hindi", "spec_name_hindi"},
	{"degree_name", "degree_name"},
	{"degree_name_hindi", "degree_name_hindi"},
	{"completion_year", "completionYear"},
	{"convo_day", "convo_day"},
	{"convo_month_hindi", "convo_month_hindi"},
	{"convo_year", "convo_year"},
	{"degree_gpa", "degreeGPA"},
	{"given_day", "givenDay"},
	{"given_month", "givenMonth"},
	{"given_year", "givenYear"},
}

// Map returns every template field; fields whose source column is absent
// are set to "".
func Map(r domain.Record) domain.Fields {
	out := make(domain.Fields, len(Pairs))
	for _, p := range Pairs {
		out[p[1]] = r[p[0]]
	}
	return out
}

// SourceKeys lists the columns a record source is expected to provide.
func SourceKeys() []string {
	keys := make([]string, 0, len(Pairs))
	for _, p := range Pairs {
		keys = append(keys, p[0])
	}
	return keys
}
