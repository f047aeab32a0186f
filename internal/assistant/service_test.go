package assistant

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/RichardoC/alfred/internal/executor"
	"github.com/RichardoC/alfred/internal/metrics"
	"github.com/RichardoC/alfred/internal/models"
	"github.com/RichardoC/alfred/internal/safety"
)

type fakeStore struct {
	conversations []*models.Conversation
	messages      []*models.Message
	resolveErr    error
	saveErrAt     int // 1-based SaveMessage call that fails; 0 never
	saves         int
}

func (f *fakeStore) ResolveConversation(_ context.Context, id *int64, title string) (*models.Conversation, error) {
	if f.resolveErr != nil {
		return nil, f.resolveErr
	}
	if id != nil {
		for _, c := range f.conversations {
			if c.ID == *id {
				return c, nil
			}
		}
	}
	c := &models.Conversation{ID: int64(len(f.conversations) + 1), Title: title}
	f.conversations = append(f.conversations, c)
	return c, nil
}

func (f *fakeStore) SaveMessage(_ context.Context, msg *models.Message) error {
	f.saves++
	if f.saveErrAt == f.saves {
		return errors.New("disk full")
	}
	msg.ID = int64(len(f.messages) + 1)
	f.messages = append(f.messages, msg)
	return nil
}

type fakeGenerator struct {
	command string
	err     error
	calls   int
}

func (f *fakeGenerator) GenerateCommand(context.Context, string) (string, error) {
	f.calls++
	return f.command, f.err
}

type fakeRunner struct {
	result *executor.Result
	err    error
	ran    []string
}

func (f *fakeRunner) Run(_ context.Context, command string) (*executor.Result, error) {
	f.ran = append(f.ran, command)
	return f.result, f.err
}

func newService(t *testing.T, store *fakeStore, gen *fakeGenerator, runner *fakeRunner) (*Service, *metrics.Metrics) {
	t.Helper()
	m := metrics.New(prometheus.NewRegistry())
	gate := safety.NewGate(safety.NewAllowList("echo", "ls", "remove-item"))
	return NewService(store, gen, gate, runner, m, zaptest.NewLogger(t)), m
}

func TestGenerate_CreatesConversationAndTwoMessages(t *testing.T) {
	store := &fakeStore{}
	gen := &fakeGenerator{command: "Get-ChildItem"}
	svc, m := newService(t, store, gen, &fakeRunner{})

	res, err := svc.Generate(context.Background(), "list files", nil)
	require.NoError(t, err)

	assert.Equal(t, "Get-ChildItem", res.Command)
	require.Len(t, store.conversations, 1)
	assert.Equal(t, store.conversations[0].ID, res.ConversationID)
	assert.Equal(t, "list files", store.conversations[0].Title)

	require.Len(t, store.messages, 2)
	assert.Equal(t, models.RoleUser, store.messages[0].Role)
	assert.Equal(t, "list files", store.messages[0].Content)
	assert.Equal(t, models.RoleAssistant, store.messages[1].Role)
	assert.Equal(t, "Get-ChildItem", store.messages[1].Content)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CommandsGeneratedTotal.WithLabelValues("success")))
}

func TestGenerate_ReusesExistingConversation(t *testing.T) {
	existing := &models.Conversation{ID: 7, Title: "old"}
	store := &fakeStore{conversations: []*models.Conversation{existing}}
	svc, _ := newService(t, store, &fakeGenerator{command: "ls"}, &fakeRunner{})

	id := int64(7)
	res, err := svc.Generate(context.Background(), "again", &id)
	require.NoError(t, err)
	assert.Equal(t, int64(7), res.ConversationID)
	assert.Len(t, store.conversations, 1)
	assert.Len(t, store.messages, 2)
}

func TestGenerate_TitleIsTruncated(t *testing.T) {
	store := &fakeStore{}
	svc, _ := newService(t, store, &fakeGenerator{command: "echo hi"}, &fakeRunner{})

	long := "please create a folder named Reports on my Desktop and then list it"
	_, err := svc.Generate(context.Background(), long, nil)
	require.NoError(t, err)
	assert.Equal(t, long[:40], store.conversations[0].Title)
	assert.Equal(t, long, store.messages[0].Content)
}

func TestGenerate_MissingTextWritesNothing(t *testing.T) {
	store := &fakeStore{}
	gen := &fakeGenerator{command: "ls"}
	svc, _ := newService(t, store, gen, &fakeRunner{})

	_, err := svc.Generate(context.Background(), "", nil)
	assert.True(t, errors.Is(err, ErrTextRequired))
	assert.Zero(t, gen.calls)
	assert.Empty(t, store.conversations)
	assert.Empty(t, store.messages)
}

func TestGenerate_WhitespaceTextIsForwarded(t *testing.T) {
	store := &fakeStore{}
	gen := &fakeGenerator{command: "echo 'What would you like me to do?'"}
	svc, _ := newService(t, store, gen, &fakeRunner{})

	_, err := svc.Generate(context.Background(), "   ", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, gen.calls)
	require.Len(t, store.messages, 2)
	assert.Equal(t, "   ", store.messages[0].Content)
}

func TestGenerate_ProviderErrorWritesNothing(t *testing.T) {
	store := &fakeStore{}
	providerErr := errors.New("API key not valid")
	svc, m := newService(t, store, &fakeGenerator{err: providerErr}, &fakeRunner{})

	_, err := svc.Generate(context.Background(), "list files", nil)
	assert.True(t, errors.Is(err, providerErr))
	assert.Empty(t, store.conversations)
	assert.Empty(t, store.messages)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CommandsGeneratedTotal.WithLabelValues("error")))
}

func TestGenerate_PartialFailureIsNotRolledBack(t *testing.T) {
	store := &fakeStore{saveErrAt: 2}
	svc, _ := newService(t, store, &fakeGenerator{command: "ls"}, &fakeRunner{})

	_, err := svc.Generate(context.Background(), "list files", nil)
	require.Error(t, err)
	assert.Len(t, store.conversations, 1)
	require.Len(t, store.messages, 1)
	assert.Equal(t, models.RoleUser, store.messages[0].Role)
}

func TestGenerate_ResolveError(t *testing.T) {
	store := &fakeStore{resolveErr: errors.New("db down")}
	svc, _ := newService(t, store, &fakeGenerator{command: "ls"}, &fakeRunner{})

	_, err := svc.Generate(context.Background(), "list files", nil)
	require.Error(t, err)
	assert.Empty(t, store.messages)
}

func TestExecute(t *testing.T) {
	runner := &fakeRunner{result: &executor.Result{ExitCode: 1, Stdout: "out", Stderr: "err", Duration: time.Millisecond}}
	svc, m := newService(t, &fakeStore{}, &fakeGenerator{}, runner)

	res, err := svc.Execute(context.Background(), "ls missing-dir")
	require.NoError(t, err)
	assert.Equal(t, 1, res.ExitCode)
	assert.Equal(t, []string{"ls missing-dir"}, runner.ran)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ExecutionsTotal.WithLabelValues(metrics.OutcomeCompleted)))
}

func TestExecute_Rejected(t *testing.T) {
	runner := &fakeRunner{}
	svc, m := newService(t, &fakeStore{}, &fakeGenerator{}, runner)

	for _, cmd := range []string{"format C:", "   "} {
		_, err := svc.Execute(context.Background(), cmd)
		var rejected *RejectedError
		require.True(t, errors.As(err, &rejected), "command %q", cmd)
		assert.Equal(t, []string{"echo", "ls", "remove-item"}, rejected.Allowed)
	}
	assert.Empty(t, runner.ran)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ExecutionsTotal.WithLabelValues(metrics.OutcomeRejected)))
}

func TestExecute_FirstTokenBypassIsAllowed(t *testing.T) {
	runner := &fakeRunner{result: &executor.Result{}}
	svc, _ := newService(t, &fakeStore{}, &fakeGenerator{}, runner)

	_, err := svc.Execute(context.Background(), `Remove-Item -Recurse -Force C:\`)
	require.NoError(t, err)
	assert.Len(t, runner.ran, 1)
}

func TestExecute_Errors(t *testing.T) {
	svc, _ := newService(t, &fakeStore{}, &fakeGenerator{}, &fakeRunner{})
	_, err := svc.Execute(context.Background(), "")
	assert.True(t, errors.Is(err, ErrCommandRequired))

	svc, m := newService(t, &fakeStore{}, &fakeGenerator{}, &fakeRunner{err: executor.ErrTimeout})
	_, err = svc.Execute(context.Background(), "echo slow")
	assert.True(t, errors.Is(err, executor.ErrTimeout))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ExecutionsTotal.WithLabelValues(metrics.OutcomeTimeout)))

	svc, m = newService(t, &fakeStore{}, &fakeGenerator{}, &fakeRunner{err: errors.New("exec: \"pwsh\": executable file not found in $PATH")})
	_, err = svc.Execute(context.Background(), "echo hi")
	assert.Error(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ExecutionsTotal.WithLabelValues(metrics.OutcomeError)))
}
