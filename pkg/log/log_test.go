package log

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type LogTestSuite struct {
	suite.Suite
	buf     *bytes.Buffer
	restore func()
}

func TestLogTestSuite(t *testing.T) {
	suite.Run(t, new(LogTestSuite))
}

func (s *LogTestSuite) SetupTest() {
	s.buf = &bytes.Buffer{}
	prev := zap.L()
	zap.ReplaceGlobals(zap.New(zapcore.NewCore(
		zapcore.NewJSONEncoder(config()),
		zapcore.AddSync(s.buf),
		logLevel,
	)))
	s.restore = func() { zap.ReplaceGlobals(prev) }
	s.Require().NoError(SetLevel("info"))
}

func (s *LogTestSuite) TearDownTest() {
	s.restore()
	s.Require().NoError(SetLevel("info"))
}

// entries decodes every JSON line written since the last call.
func (s *LogTestSuite) entries() []map[string]any {
	var out []map[string]any
	dec := json.NewDecoder(s.buf)
	for dec.More() {
		entry := map[string]any{}
		s.Require().NoError(dec.Decode(&entry))
		out = append(out, entry)
	}
	s.buf.Reset()
	return out
}

func (s *LogTestSuite) TestKeyValueFields() {
	Info("deployed workflow", "dag_id", "workflow_0b6f", "state", "paused", "tasks", 3)

	entries := s.entries()
	s.Require().Len(entries, 1)
	e := entries[0]
	s.Equal("info", e["level"])
	s.Equal("deployed workflow", e["msg"])
	s.Equal("workflow_0b6f", e["dag_id"])
	s.Equal("paused", e["state"])
	s.Equal(float64(3), e["tasks"])
	s.Contains(e, "timestamp")
	s.NotContains(e, "ts")
}

func (s *LogTestSuite) TestLevelFiltering() {
	cases := []struct {
		level string
		want  []string
	}{
		{"debug", []string{"debug", "info", "warn", "error"}},
		{"info", []string{"info", "warn", "error"}},
		{"warn", []string{"warn", "error"}},
		{"error", []string{"error"}},
		{"panic", nil},
	}

	for _, tc := range cases {
		s.Require().NoError(SetLevel(tc.level), tc.level)
		Debug("scheduler call", "operation", "get_dag")
		Info("scheduler call", "operation", "get_dag")
		Warn("scheduler call", "operation", "get_dag")
		Error("scheduler call", "operation", "get_dag")

		var got []string
		for _, e := range s.entries() {
			got = append(got, e["level"].(string))
		}
		s.Equal(tc.want, got, tc.level)
	}
}

func (s *LogTestSuite) TestPanicStillLogs() {
	s.Require().NoError(SetLevel("panic"))
	s.Panics(func() { Panic("store corrupted", "workflow_id", "abc") })

	entries := s.entries()
	s.Require().Len(entries, 1)
	s.Equal("panic", entries[0]["level"])
	s.Equal("abc", entries[0]["workflow_id"])
}

func (s *LogTestSuite) TestSetLevelFromEnvironmentValue() {
	s.Require().NoError(SetLevel("  WARN\n"))
	s.Equal(zapcore.WarnLevel, GetLevel())

	s.Require().NoError(SetLevel("Fatal"))
	s.Equal(zapcore.FatalLevel, GetLevel())

	err := SetLevel("verbose")
	s.Require().Error(err)
	s.Contains(err.Error(), "verbose")
	s.Equal(zapcore.FatalLevel, GetLevel())
}

func (s *LogTestSuite) TestClean() {
	s.Equal("running", Clean(" Running\n"))
	s.Equal("", Clean("\t"))
}
