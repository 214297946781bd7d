package definition_test

import (
	"context"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/pipewright/pipewright/internal/definition"
	"github.com/pipewright/pipewright/internal/errdefs"
	"github.com/pipewright/pipewright/internal/models"
	"github.com/pipewright/pipewright/internal/store"
	"github.com/pipewright/pipewright/internal/task"
	"github.com/pipewright/pipewright/internal/testutil"
	"github.com/stretchr/testify/suite"
	"gorm.io/gorm"
)

type DefinitionTestSuite struct {
	suite.Suite
	db    *gorm.DB
	store *store.Store
	ctx   context.Context
}

func TestDefinitionSuite(t *testing.T) {
	suite.Run(t, new(DefinitionTestSuite))
}

func (s *DefinitionTestSuite) SetupTest() {
	s.db = testutil.OpenTestDB(s.T())
	s.store = store.New(s.db)
	s.ctx = context.Background()
}

func (s *DefinitionTestSuite) TearDownTest() {
	testutil.CloseDB(s.db)
}

var ignoreIdentity = cmpopts.IgnoreFields(models.Task{}, "ID", "WorkflowID", "CreatedAt", "UpdatedAt")

func (s *DefinitionTestSuite) importSample(doc string) *models.Workflow {
	draft, err := definition.Import([]byte(doc))
	s.Require().NoError(err)

	wf, err := s.store.ImportWorkflow(s.ctx, draft)
	s.Require().NoError(err)

	stored, err := s.store.GetWorkflow(s.ctx, wf.ID)
	s.Require().NoError(err)
	return stored
}

func (s *DefinitionTestSuite) TestImport() {
	draft, err := definition.Import([]byte(testutil.SampleWorkflow))
	s.Require().NoError(err)

	s.Equal("csv_to_parquet", draft.Name)
	s.Equal("0 * * * *", draft.Schedule)
	s.True(draft.IsActive)
	s.Require().Len(draft.Tasks, 3)
	s.Equal([]string{"list_files", "convert", "publish"}, []string{draft.Tasks[0].Name, draft.Tasks[1].Name, draft.Tasks[2].Name})
}

func (s *DefinitionTestSuite) TestRoundTrip() {
	original := s.importSample(testutil.SampleWorkflow)

	out, err := definition.Export(original)
	s.Require().NoError(err)

	// a second workflow imported from the export must carry the same tasks
	renamed := strings.Replace(string(out), "name: csv_to_parquet", "name: csv_to_parquet_copy", 1)
	copied := s.importSample(renamed)

	if diff := cmp.Diff(original.Tasks, copied.Tasks, ignoreIdentity); diff != "" {
		s.Failf("round trip changed tasks", "(-original +copy):\n%s", diff)
	}
	s.Equal(original.Schedule, copied.Schedule)
	s.Equal(original.Description, copied.Description)
	s.Equal(original.IsActive, copied.IsActive)
}

func (s *DefinitionTestSuite) TestRoundTripInactiveWithoutSchedule() {
	doc := `
version: "1.0"
workflow:
  name: manual_only
  is_active: false
tasks:
  - name: only
    python_callable: "print('hi')"
    retry_delay: 0
`
	original := s.importSample(doc)
	s.False(original.IsActive)
	s.Equal(0, original.Tasks[0].RetryDelay)

	out, err := definition.Export(original)
	s.Require().NoError(err)

	draft, err := definition.Import(out)
	s.Require().NoError(err)
	s.False(draft.IsActive)
	s.Empty(draft.Schedule)
	s.Require().NotNil(draft.Tasks[0].RetryDelay)
	s.Equal(0, *draft.Tasks[0].RetryDelay)
}

func (s *DefinitionTestSuite) TestRoundTripKeepsLargeIntegerParams() {
	doc := `
version: "1.0"
workflow:
  name: big_ids
tasks:
  - name: fetch
    python_callable: "pass"
    params:
      id: 9007199254740993
      ratio: 0.5
      pages: [1, 2]
`
	original := s.importSample(doc)

	out, err := definition.Export(original)
	s.Require().NoError(err)
	s.Contains(string(out), "id: 9007199254740993")
	s.NotContains(string(out), "e+15")

	draft, err := definition.Import(out)
	s.Require().NoError(err)
	draft.Name = "big_ids_copy"
	wf, err := s.store.ImportWorkflow(s.ctx, draft)
	s.Require().NoError(err)
	copied, err := s.store.GetWorkflow(s.ctx, wf.ID)
	s.Require().NoError(err)

	back := task.FromModel(copied.Tasks[0])
	s.Equal(int64(9007199254740993), back.Params["id"])
	s.Equal(0.5, back.Params["ratio"])
	s.Equal([]any{int64(1), int64(2)}, back.Params["pages"])
}

func (s *DefinitionTestSuite) TestExportOrder() {
	wf := s.importSample(testutil.SampleWorkflow)

	out, err := definition.Export(wf)
	s.Require().NoError(err)

	text := string(out)
	s.Less(strings.Index(text, "name: list_files"), strings.Index(text, "name: convert"))
	s.Less(strings.Index(text, "name: convert"), strings.Index(text, "name: publish"))
	s.Contains(text, `version: "1.0"`)
}

func (s *DefinitionTestSuite) TestImportErrors() {
	cases := []struct {
		name     string
		doc      string
		category error
		target   any
	}{
		{
			name:     "syntax",
			doc:      "workflow: [unclosed",
			category: errdefs.ErrValidation,
			target:   new(*errdefs.InvalidFieldError),
		},
		{
			name:     "version",
			doc:      "version: \"2.0\"\nworkflow:\n  name: x\n",
			category: errdefs.ErrValidation,
			target:   new(*errdefs.InvalidFieldError),
		},
		{
			name:     "missing name",
			doc:      "version: \"1.0\"\nworkflow:\n  description: nameless\n",
			category: errdefs.ErrValidation,
			target:   new(*errdefs.MissingRequiredFieldError),
		},
		{
			name:     "bad task name",
			doc:      "version: \"1.0\"\nworkflow:\n  name: x\ntasks:\n  - name: 1st\n    python_callable: pass\n",
			category: errdefs.ErrValidation,
			target:   new(*errdefs.InvalidNameError),
		},
		{
			name:     "retry out of range",
			doc:      "version: \"1.0\"\nworkflow:\n  name: x\ntasks:\n  - name: a\n    python_callable: pass\n    retry_count: 11\n",
			category: errdefs.ErrValidation,
			target:   new(*errdefs.OutOfRangeError),
		},
		{
			name:     "duplicate task",
			doc:      "version: \"1.0\"\nworkflow:\n  name: x\ntasks:\n  - name: a\n    python_callable: pass\n  - name: a\n    python_callable: pass\n",
			category: errdefs.ErrConflict,
			target:   new(*errdefs.ConflictError),
		},
		{
			name:     "dangling",
			doc:      "version: \"1.0\"\nworkflow:\n  name: x\ntasks:\n  - name: a\n    python_callable: pass\n    dependencies: [ghost]\n",
			category: errdefs.ErrGraph,
			target:   new(*errdefs.DanglingReferenceError),
		},
		{
			name:     "cycle",
			doc:      "version: \"1.0\"\nworkflow:\n  name: x\ntasks:\n  - name: a\n    python_callable: pass\n    dependencies: [b]\n  - name: b\n    python_callable: pass\n    dependencies: [a]\n",
			category: errdefs.ErrGraph,
			target:   new(*errdefs.CycleError),
		},
	}

	for _, tc := range cases {
		s.Run(tc.name, func() {
			_, err := definition.Import([]byte(tc.doc))
			s.Require().Error(err)
			s.ErrorIs(err, tc.category)
			s.ErrorAs(err, tc.target)
		})
	}
}
