package definition

import (
	"testing"

	"github.com/stretchr/testify/require"
)

var example = `
version: "1.0"
workflow:
  name: nightly_etl
  schedule: "@daily"
tasks:
  - name: extract
    python_callable: |
      def run(**context):
          print("extract")
  - name: load
    execution_mode: git
    git_repository: https://example.com/etl.git
    script_path: load.py
    function_name: main
    dependencies: [extract]
`

func TestParse(t *testing.T) {
	doc, err := Parse([]byte(example))
	require.NoError(t, err)
	require.Equal(t, Version, doc.Version)
	require.Equal(t, "nightly_etl", doc.Workflow.Name)
	require.True(t, doc.Workflow.Active())
	require.Len(t, doc.Tasks, 2)
	require.Equal(t, ModeInline, doc.Tasks[0].ExecutionMode)
	require.Contains(t, *doc.Tasks[0].PythonCallable, "print(\"extract\")")
	require.Equal(t, ModeGit, doc.Tasks[1].ExecutionMode)
	require.Equal(t, []string{"extract"}, doc.Tasks[1].Dependencies)
}

func TestParseRejectsUnknownField(t *testing.T) {
	_, err := Parse([]byte("version: \"1.0\"\nworkflow:\n  name: x\n  owner: me\n"))
	require.Error(t, err)
}

func TestParseSyntaxError(t *testing.T) {
	_, err := Parse([]byte("workflow: [unclosed"))
	require.Error(t, err)
}

func TestMarshalParse(t *testing.T) {
	doc, err := Parse([]byte(example))
	require.NoError(t, err)

	out, err := Marshal(doc)
	require.NoError(t, err)

	again, err := Parse(out)
	require.NoError(t, err)
	require.Equal(t, doc, again)
}

func TestParseRejectsUnknownTaskField(t *testing.T) {
	_, err := Parse([]byte("version: \"1.0\"\nworkflow:\n  name: x\ntasks:\n  - name: a\n    python_callable: pass\n    timeout: 5\n"))
	require.Error(t, err)
}

func TestParseAll(t *testing.T) {
	second := "version: \"1.0\"\nworkflow:\n  name: other\ntasks:\n  - name: only\n    python_callable: pass\n"
	docs, err := ParseAll([]byte(example + "\n---\n" + second + "---\n"))
	require.NoError(t, err)
	require.Len(t, docs, 2)
	require.Equal(t, "nightly_etl", docs[0].Workflow.Name)
	require.Equal(t, "other", docs[1].Workflow.Name)
	require.Equal(t, ModeInline, docs[1].Tasks[0].ExecutionMode)
}
