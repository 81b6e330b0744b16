// Package catalog holds the fixed lists the selection form offers.
package catalog

type Session struct {
	PK        int    `json:"pk"`
	Name      string `json:"session_name"`
	ShortName string `json:"session_short_name"`
}

type Programme struct {
	PK   int    `json:"pk"`
	Name string `json:"programme_name"`
}

type Semester struct {
	PK   int    `json:"pk"`
	Name string `json:"semester"`
}

var sessions = []Session{
	{1, "2017-2018", "2017-18"},
	{2, "2016-2017", "2016-17"},
	{3, "2015-2016", "2015-16"},
	{4, "2014-2015", "2014-15"},
	{5, "2013-2014", "2013-14"},
	{6, "2012-2013", "2012-13"},
	{7, "2011-2012", "2011-12"},
	{8, "2010-2011", "2010-11"},
	{9, "2009-2010", "2009-10"},
	{10, "2018-2019", "2018-19"},
	{11, "2007-2008", "2007-08"},
	{12, "2008-2009", "2008-09"},
	{13, "2006-2007", "2006-07"},
	{14, "2019-2020", "2019-20"},
	{16, "2020-2021", "2020-21"},
	{17, "2021-2022", "2021-22"},
	{18, "2022-2023", "2022-23"},
	{19, "2023-2024", "2023-24"},
	{20, "2024-2025", "2024-25"},
	{21, "2025-2026", "2025-26"},
}

var programmes = []Programme{
	{1, "BACHELOR OF TECHNOLOGY"},
	{3, "MASTER OF SCIENCE"},
	{4, "MASTER OF TECHNOLOGY (MTECH)"},
	{5, "DOCTOR OF PHILOSOPHY (PHD)"},
	{7, "B.TECH-M.TECH (DUAL)"},
	{8, "M.SC-PH.D (DUAL DEGREE)"},
	{9, "M.B.A."},
	{10, "MS-RESEARCH"},
	{11, "MASTER IN PUBLIC POLICY"},
	{12, "ADVANCE DEGREE"},
	{13, "BACHELOR OF DESIGN"},
	{23, "MDES"},
	{24, "INTERDISCIPLINARY M.TECH"},
	{25, "PGDIP"},
	{26, "PGDIIT"},
	{27, "INTEGRATED M.TECH"},
	{28, "UG-VST"},
	{29, "PG-VST"},
	{30, "M. TECH HVA - HIGH VALUE ASSISTANTSHIP (3 YEARS)"},
	{31, "DIPLOMA"},
	{32, "ABU DHABI"},
	{33, "MA"},
	{34, "EXECUTIVE MBA"},
}

var semesters = []Semester{
	{1, "Odd"},
	{2, "Even"},
	{3, "Summer"},
}

// Sessions, Programmes and Semesters return copies; callers may modify them.
func Sessions() []Session {
	return append([]Session(nil), sessions...)
}

func Programmes() []Programme {
	return append([]Programme(nil), programmes...)
}

func Semesters() []Semester {
	return append([]Semester(nil), semesters...)
}
