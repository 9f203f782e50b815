package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func sanitize(s Sanitizer, sql string) string {
	return s.Apply(newTestClassifier().Classify(sql)).SQL
}

func TestSanitizeAppendsDefaultCap(t *testing.T) {
	s := NewSanitizer(100, 1000)

	assert.Equal(t, "select * from repairs LIMIT 100", sanitize(s, "select * from repairs"))
	assert.Equal(t, "SELECT * FROM repairs LIMIT 100;", sanitize(s, "SELECT * FROM repairs;"))
	assert.Equal(t, "SELECT * FROM repairs LIMIT 100 -- all rows", sanitize(s, "SELECT * FROM repairs -- all rows"))
	assert.Equal(t, "SELECT * FROM (SELECT * FROM repairs LIMIT 5) t LIMIT 100",
		sanitize(s, "SELECT * FROM (SELECT * FROM repairs LIMIT 5) t"))
}

func TestSanitizeClampsExistingCap(t *testing.T) {
	s := NewSanitizer(100, 1000)

	cases := map[string]string{
		"SELECT * FROM repairs LIMIT 5000":                                       "SELECT * FROM repairs LIMIT 1000",
		"SELECT * FROM repairs limit 50":                                         "SELECT * FROM repairs limit 50",
		"SELECT * FROM repairs LIMIT ALL":                                        "SELECT * FROM repairs LIMIT 1000",
		"SELECT * FROM repairs LIMIT 10, 5000":                                   "SELECT * FROM repairs LIMIT 10, 1000",
		"SELECT * FROM repairs LIMIT 5000 OFFSET 10":                             "SELECT * FROM repairs LIMIT 1000 OFFSET 10",
		"SELECT * FROM repairs LIMIT $1":                                         "SELECT * FROM repairs LIMIT 1000",
		"SELECT * FROM repairs ORDER BY repair_id FETCH FIRST 2000 ROWS ONLY":    "SELECT * FROM repairs ORDER BY repair_id FETCH FIRST 1000 ROWS ONLY",
		"SELECT * FROM repairs ORDER BY repair_id FETCH NEXT 20 ROWS ONLY":       "SELECT * FROM repairs ORDER BY repair_id FETCH NEXT 20 ROWS ONLY",
		"WITH r AS (SELECT * FROM repairs LIMIT 9999) SELECT * FROM r LIMIT 9999": "WITH r AS (SELECT * FROM repairs LIMIT 9999) SELECT * FROM r LIMIT 1000",
	}

	for in, want := range cases {
		assert.Equal(t, want, sanitize(s, in), in)
	}
}

func TestSanitizeIsIdempotent(t *testing.T) {
	s := NewSanitizer(100, 1000)
	c := newTestClassifier()

	for _, sql := range []string{
		"select * from repairs",
		"SELECT * FROM repairs LIMIT 5000;",
		"SELECT * FROM repairs LIMIT ALL",
		"SELECT panel_name, count(*) FROM damage_detections GROUP BY panel_name -- trailing",
	} {
		once := s.Apply(c.Classify(sql))
		twice := s.Apply(c.Classify(once.SQL))
		assert.Equal(t, once.SQL, twice.SQL, sql)
	}
}

func TestSanitizeLeavesNonReadsAlone(t *testing.T) {
	s := NewSanitizer(100, 1000)

	for _, sql := range []string{
		"DELETE FROM repairs WHERE repair_id = 10",
		"SELECT 1; SELECT 2",
		"SELECT 'abc",
		"SHOW TABLES",
	} {
		assert.Equal(t, sql, sanitize(s, sql), sql)
	}
}

func TestNewSanitizerNormalizesLimits(t *testing.T) {
	s := NewSanitizer(5000, 1000)
	assert.Equal(t, 1000, s.DefaultLimit)

	s = NewSanitizer(0, 0)
	assert.Equal(t, 1, s.MaxLimit)
	assert.Equal(t, 1, s.DefaultLimit)
}
