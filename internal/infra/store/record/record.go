// Package recordstore reads graduate records from the academic database.
package recordstore

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/you-humble/degreegen/internal/domain"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type Config struct {
	Driver string
	DSN    string

	MaxOpenConns    int
	ConnMaxLifetime time.Duration
}

func Open(cfg Config) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(cfg.Driver) {
	case "postgres", "postgresql":
		dialector = postgres.Open(cfg.DSN)
	case "", "sqlite", "sqlite3":
		dialector = sqlite.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Driver, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("database handle: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	return db, nil
}

// graduatesQuery selects students who cleared the degree warning stage
// (wap 6) in the given session, semester and programme.
const graduatesQuery = `
SELECT DISTINCT
	employee_master.pf_number AS entryno,
	employee_master.first_name AS name,
	employee_master.name_hindi,
	COALESCE(dgpa.dgpa, acad_course_grade_cpi.cpi) AS degree_gpa,
	acad_degree_name_print.english_prog_name AS degree_name,
	acad_degree_name_print.engish_spec_name AS spec_name,
	acad_degree_name_print.hindi_prog_name AS degree_name_hindi,
	acad_degree_name_print.hindi_spec_name AS spec_name_hindi,
	acad_session_master.given_year,
	acad_session_master.given_month,
	acad_session_master.given_day,
	acad_session_master.convo_year,
	acad_session_master.convo_day,
	acad_session_master.completion_year,
	acad_session_master.convo_month_hindi
FROM
	employee_master
	INNER JOIN student_master_programme_details
		ON student_master_programme_details.employee_master_pk = employee_master.pk
	INNER JOIN programme_master
		ON programme_master.pk = student_master_programme_details.acad_programme_master_pk
	INNER JOIN acad_degree_name_print
		ON acad_degree_name_print.acad_branch_master_pk = student_master_programme_details.acad_branch_master_pk
		AND acad_degree_name_print.programme_pk = student_master_programme_details.acad_programme_master_pk
		AND acad_degree_name_print.batch = student_master_programme_details.batch
		AND acad_degree_name_print.specialization_pk = student_master_programme_details.specialization_master_pk
	INNER JOIN acad_course_grade_cpi
		ON acad_course_grade_cpi.student_pk = student_master_programme_details.employee_master_pk
		AND acad_course_grade_cpi.flag = 1
	LEFT JOIN dgpa
		ON dgpa.employee_master_pk = student_master_programme_details.employee_master_pk
		AND dgpa.flag = student_master_programme_details.pg_status
	INNER JOIN acad_student_warning_ap
		ON acad_student_warning_ap.employee_master_pk = student_master_programme_details.employee_master_pk
		AND acad_student_warning_ap.flag = 1
	INNER JOIN acad_session_master
		ON acad_student_warning_ap.acad_session_master_pk = acad_session_master.pk
WHERE
	acad_student_warning_ap.wap IN (6)
	AND acad_session_master.pk = @session_pk
	AND acad_student_warning_ap.acad_semester_pk = @semester_pk
	AND programme_master.pk = @programme_pk
	AND acad_student_warning_ap.flag = 1
	AND acad_course_grade_cpi.flag = 1
	AND employee_master.identifier_master_pk = 2`

const entriesFilter = `
	AND employee_master.pf_number IN @entries`

type gormRecordStore struct {
	db *gorm.DB
}

func NewGormRecordStore(db *gorm.DB) *gormRecordStore {
	return &gormRecordStore{db: db}
}

// Graduates lists every eligible graduate of the selection.
func (s *gormRecordStore) Graduates(ctx context.Context, sel domain.Selection) ([]domain.Record, error) {
	args, err := selectionArgs(sel)
	if err != nil {
		return nil, err
	}
	return s.query(ctx, graduatesQuery+"\nORDER BY entryno", args)
}

// ByEntries returns the records of the selected entry numbers, in the
// order they were given. Unknown entries are skipped.
func (s *gormRecordStore) ByEntries(ctx context.Context, sel domain.Selection, entries []string) ([]domain.Record, error) {
	if len(entries) == 0 {
		return nil, domain.ErrNoEntries
	}
	args, err := selectionArgs(sel)
	if err != nil {
		return nil, err
	}

	wanted := make([]string, 0, len(entries))
	seen := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		if _, ok := seen[e]; ok {
			continue
		}
		seen[e] = struct{}{}
		wanted = append(wanted, e)
	}
	if len(wanted) == 0 {
		return nil, domain.ErrNoEntries
	}
	args["entries"] = wanted

	rows, err := s.query(ctx, graduatesQuery+entriesFilter, args)
	if err != nil {
		return nil, err
	}

	byEntry := make(map[string]domain.Record, len(rows))
	for _, r := range rows {
		if _, dup := byEntry[r["entryno"]]; !dup {
			byEntry[r["entryno"]] = r
		}
	}

	records := make([]domain.Record, 0, len(wanted))
	for _, e := range wanted {
		if r, ok := byEntry[e]; ok {
			records = append(records, r)
		}
	}
	return records, nil
}

func (s *gormRecordStore) query(ctx context.Context, sql string, args map[string]any) ([]domain.Record, error) {
	var rows []map[string]any
	if err := s.db.WithContext(ctx).Raw(sql, args).Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("query graduates: %w", err)
	}

	records := make([]domain.Record, 0, len(rows))
	for _, row := range rows {
		rec := make(domain.Record, len(row))
		for k, v := range row {
			rec[k] = stringify(v)
		}
		records = append(records, rec)
	}
	return records, nil
}

func selectionArgs(sel domain.Selection) (map[string]any, error) {
	if !sel.Complete() {
		return nil, domain.ErrIncompleteFilter
	}

	args := make(map[string]any, 4)
	for name, raw := range map[string]string{
		"session_pk":   sel.SessionPK,
		"programme_pk": sel.ProgrammePK,
		"semester_pk":  sel.SemesterPK,
	} {
		pk, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return nil, errors.Join(domain.ErrIncompleteFilter, fmt.Errorf("%s: %q is not a number", name, raw))
		}
		args[name] = pk
	}
	return args, nil
}

// stringify renders a scanned column. Drivers may hand back pointers
// (*string, *float64, *any) for nullable columns, so they are followed first.
func stringify(v any) string {
	for {
		rv := reflect.ValueOf(v)
		if !rv.IsValid() {
			return ""
		}
		if rv.Kind() != reflect.Pointer && rv.Kind() != reflect.Interface {
			break
		}
		if rv.IsNil() {
			return ""
		}
		v = rv.Elem().Interface()
	}

	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case int64:
		return strconv.FormatInt(t, 10)
	case int32:
		return strconv.FormatInt(int64(t), 10)
	case int:
		return strconv.Itoa(t)
	case bool:
		return strconv.FormatBool(t)
	case time.Time:
		return t.Format(time.DateOnly)
	default:
		return fmt.Sprint(t)
	}
}
