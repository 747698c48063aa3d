package services

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/RPLaine/newsroom-processor/internal/apperr"
	db "github.com/RPLaine/newsroom-processor/internal/core/database"
	"github.com/RPLaine/newsroom-processor/internal/models"
)

func linearStructure() models.Structure {
	return models.Structure{
		Nodes: []models.Node{
			{ID: "s", Type: "start", Name: "Start"},
			{ID: "m", Type: "process", Name: "Draft article", Configuration: map[string]any{
				"header": "Draft", "prompt": "Write a short draft",
			}},
			{ID: "f", Type: "finish", Name: "Finish"},
		},
		Connections: []models.Connection{{From: "s", To: "m"}, {From: "m", To: "f"}},
	}
}

func TestProcessWalksLinearStructureToCompletion(t *testing.T) {
	svc, _, uid := newTestProcesses(t, &fakeLLM{})
	ctx := context.Background()

	p, err := svc.Start(ctx, uid, StartOptions{Structure: linearStructure()})
	require.NoError(t, err)
	assert.Equal(t, "s", p.CurrentNodeID)
	assert.Equal(t, models.ProcessRunning, p.Status)

	p, err = svc.Step(ctx, uid, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "m", p.CurrentNodeID)

	assert.Equal(t, models.ProcessRunning, p.Status)

	p, err = svc.Step(ctx, uid, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "f", p.CurrentNodeID)
	assert.Equal(t, models.ProcessCompleted, p.Status)
	assert.Equal(t, []string{"s", "m", "f"}, p.VisitedNodes)
	assert.Len(t, p.Path, 3)

	again, err := svc.Step(ctx, uid, p.ID)
	require.NoError(t, err)
	assert.Empty(t, cmp.Diff(p, again))
}

func TestProcessStateMatchesDisk(t *testing.T) {
	svc, store, uid := newTestProcesses(t, &fakeLLM{})
	ctx := context.Background()
	p, err := svc.Start(ctx, uid, StartOptions{Structure: linearStructure()})
	require.NoError(t, err)
	p, err = svc.Step(ctx, uid, p.ID)
	require.NoError(t, err)

	onDisk, err := store.GetProcess(ctx, uid, p.ID)
	require.NoError(t, err)
	assert.Empty(t, cmp.Diff(p, onDisk))

	fresh := NewProcessService(store, &fakeLLM{}, db.NewKeyedLocker(time.Second), zap.NewNop())
	reloaded, err := fresh.Status(ctx, uid, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "m", reloaded.CurrentNodeID)
}

func TestFinishedProcessIsReadFromStore(t *testing.T) {
	svc, store, uid := newTestProcesses(t, &fakeLLM{})
	ctx := context.Background()
	p, err := svc.Start(ctx, uid, StartOptions{Structure: linearStructure()})
	require.NoError(t, err)
	for range 2 {
		p, err = svc.Step(ctx, uid, p.ID)
		require.NoError(t, err)
	}
	require.Equal(t, models.ProcessCompleted, p.Status)

	edited := *p
	edited.Error = "annotated elsewhere"
	require.NoError(t, store.SaveProcess(ctx, &edited))

	got, err := svc.Status(ctx, uid, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "annotated elsewhere", got.Error)

	list, err := svc.List(ctx, uid)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "annotated elsewhere", list[0].Error)

	svc.mu.Lock()
	assert.Empty(t, svc.runners)
	svc.mu.Unlock()
}

func TestProcessFailsOnDanglingConnection(t *testing.T) {
	svc, _, uid := newTestProcesses(t, &fakeLLM{})
	ctx := context.Background()
	structure := models.Structure{
		Nodes:       []models.Node{{ID: "s", Type: "start"}},
		Connections: []models.Connection{{From: "s", To: "ghost"}},
	}

	p, err := svc.Start(ctx, uid, StartOptions{Structure: structure})
	require.NoError(t, err)
	p, err = svc.Step(ctx, uid, p.ID)
	require.NoError(t, err)

	assert.Equal(t, models.ProcessFailed, p.Status)
	assert.Contains(t, p.Error, "ghost")
	assert.Equal(t, "s", p.CurrentNodeID)
}

func TestProcessCompletesWithoutOutgoingEdges(t *testing.T) {
	svc, _, uid := newTestProcesses(t, &fakeLLM{})
	ctx := context.Background()
	structure := models.Structure{Nodes: []models.Node{{ID: "only", Name: "Lonely"}}}

	p, err := svc.Start(ctx, uid, StartOptions{Structure: structure})
	require.NoError(t, err)
	p, err = svc.Step(ctx, uid, p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ProcessCompleted, p.Status)
	assert.Len(t, p.Path, 1)
}

func TestProcessStepPicksAmongBranches(t *testing.T) {
	svc, _, uid := newTestProcesses(t, &fakeLLM{})
	svc.pick = func(n int) int { return n - 1 }
	ctx := context.Background()
	structure := models.Structure{
		Nodes: []models.Node{{ID: "s", Type: "start"}, {ID: "a"}, {ID: "b"}},
		Connections: []models.Connection{
			{From: "s", To: "a"},
			{From: "s", To: "b"},
		},
	}

	p, err := svc.Start(ctx, uid, StartOptions{Structure: structure})
	require.NoError(t, err)
	p, err = svc.Step(ctx, uid, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "b", p.CurrentNodeID)
}

func TestProcessStartRejectsEmptyStructure(t *testing.T) {
	svc, _, uid := newTestProcesses(t, &fakeLLM{})

	_, err := svc.Start(context.Background(), uid, StartOptions{})
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestProcessIsScopedToOwner(t *testing.T) {
	svc, _, uid := newTestProcesses(t, &fakeLLM{})
	ctx := context.Background()
	p, err := svc.Start(ctx, uid, StartOptions{Structure: linearStructure()})
	require.NoError(t, err)

	_, err = svc.Status(ctx, "00000000-0000-0000-0000-000000000001", p.ID)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
	_, err = svc.Step(ctx, "00000000-0000-0000-0000-000000000001", p.ID)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestAutoAdvanceRunsToCompletion(t *testing.T) {
	svc, _, uid := newTestProcesses(t, &fakeLLM{})
	ctx := context.Background()

	p, err := svc.Start(ctx, uid, StartOptions{Structure: linearStructure(), AutoAdvance: true, Interval: time.Millisecond})
	require.NoError(t, err)
	assert.Equal(t, minStepInterval.Milliseconds(), p.IntervalMS)

	assert.Eventually(t, func() bool {
		cur, err := svc.Status(ctx, uid, p.ID)
		return err == nil && cur.Status == models.ProcessCompleted
	}, 5*time.Second, 20*time.Millisecond)

	assert.Eventually(t, func() bool {
		svc.mu.Lock()
		defer svc.mu.Unlock()
		return len(svc.runners) == 0
	}, time.Second, 10*time.Millisecond)
}

func TestStopCancelsAutoAdvance(t *testing.T) {
	svc, store, uid := newTestProcesses(t, &fakeLLM{})
	ctx := context.Background()

	p, err := svc.Start(ctx, uid, StartOptions{Structure: linearStructure(), AutoAdvance: true, Interval: time.Hour})
	require.NoError(t, err)

	stopped, err := svc.Stop(ctx, uid, p.ID)
	require.NoError(t, err)
	assert.False(t, stopped.AutoAdvance)
	assert.Equal(t, "s", stopped.CurrentNodeID)

	svc.mu.Lock()
	assert.Empty(t, svc.runners)
	svc.mu.Unlock()

	onDisk, err := store.GetProcess(ctx, uid, p.ID)
	require.NoError(t, err)
	assert.False(t, onDisk.AutoAdvance)

	stepped, err := svc.Step(ctx, uid, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "m", stepped.CurrentNodeID)
}

func TestShutdownStopsRunners(t *testing.T) {
	svc, _, uid := newTestProcesses(t, &fakeLLM{})
	ctx := context.Background()

	for range 3 {
		_, err := svc.Start(ctx, uid, StartOptions{Structure: linearStructure(), AutoAdvance: true, Interval: time.Hour})
		require.NoError(t, err)
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	require.NoError(t, svc.Shutdown(shutdownCtx))

	p, err := svc.Start(ctx, uid, StartOptions{Structure: linearStructure(), AutoAdvance: true})
	require.NoError(t, err)
	svc.mu.Lock()
	assert.NotContains(t, svc.runners, p.ID)
	svc.mu.Unlock()
}

func TestReloadedProcessHasNoRunner(t *testing.T) {
	svc, store, uid := newTestProcesses(t, &fakeLLM{})
	ctx := context.Background()

	p, err := svc.Start(ctx, uid, StartOptions{Structure: linearStructure(), AutoAdvance: true, Interval: time.Hour})
	require.NoError(t, err)
	require.True(t, p.AutoAdvance)

	restarted := NewProcessService(store, &fakeLLM{}, db.NewKeyedLocker(5*time.Second), zap.NewNop())
	t.Cleanup(func() { _ = restarted.Shutdown(context.Background()) })

	got, err := restarted.Status(ctx, uid, p.ID)
	require.NoError(t, err)
	assert.False(t, got.AutoAdvance)
	assert.Equal(t, "s", got.CurrentNodeID)
}

func TestStepGeneratesFilesWhenEnabled(t *testing.T) {
	llm := &fakeLLM{reply: func([]models.Turn) string { return "# Draft\n\nBody text" }}
	svc, _, uid := newTestProcesses(t, llm)
	svc.now = func() time.Time { return time.Unix(1_700_000_000, 0) }
	archive := &fakeArchiver{}
	svc.WithArchiver(archive)
	ctx := context.Background()

	p, err := svc.Start(ctx, uid, StartOptions{Structure: linearStructure(), GenerateFiles: true})
	require.NoError(t, err)
	assert.Zero(t, llm.callCount())

	_, err = svc.Step(ctx, uid, p.ID)
	require.NoError(t, err)
	_, err = svc.Step(ctx, uid, p.ID)
	require.NoError(t, err)

	files, err := svc.ListFiles(ctx, uid, p.ID)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "Draft_article_1700000000.md", files[0].Filename)
	assert.Equal(t, "m", files[0].NodeID)
	assert.Equal(t, len("# Draft\n\nBody text"), files[0].Size)
	require.Len(t, archive.tasks, 1)
	assert.Equal(t, "users/"+uid+"/processes/"+p.ID+"/files/Draft_article_1700000000.md", archive.tasks[0].Key)

	sent := llm.lastCall()
	require.Len(t, sent, 2)
	assert.Contains(t, sent[1].Content, "Header: Draft\nInstructions: Write a short draft\n")

	require.NoError(t, svc.DeleteFile(ctx, uid, p.ID, files[0].ID))
	files, err = svc.ListFiles(ctx, uid, p.ID)
	require.NoError(t, err)
	assert.Empty(t, files)
	require.Len(t, archive.tasks, 2)
	assert.True(t, archive.tasks[1].Delete)
	assert.Equal(t, archive.tasks[0].Key, archive.tasks[1].Key)

	err = svc.DeleteFile(ctx, uid, p.ID, "missing")
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestExecuteNodeSkipsStartAndEnd(t *testing.T) {
	llm := &fakeLLM{}
	svc, _, uid := newTestProcesses(t, llm)
	ctx := context.Background()
	p, err := svc.Start(ctx, uid, StartOptions{Structure: linearStructure()})
	require.NoError(t, err)

	file, err := svc.ExecuteNode(ctx, uid, p.ID, models.Node{ID: "f", Type: "end"})
	require.NoError(t, err)
	assert.Nil(t, file)
	assert.Zero(t, llm.callCount())

	file, err = svc.ExecuteNode(ctx, uid, p.ID, models.Node{ID: "x", Type: "process", Configuration: map[string]any{"prompt": "emit json"}})
	require.NoError(t, err)
	require.NotNil(t, file)
	assert.Equal(t, "txt", file.Filename[len(file.Filename)-3:])
}

func TestChooseNextNode(t *testing.T) {
	current := models.Node{ID: "a", Configuration: map[string]any{"header": "Intro"}}
	candidates := []models.Node{{ID: "b"}, {ID: "c"}}

	t.Run("no candidates", func(t *testing.T) {
		svc, _, _ := newTestProcesses(t, &fakeLLM{})
		next, err := svc.ChooseNextNode(context.Background(), current, nil, true)
		require.NoError(t, err)
		assert.Empty(t, next)
	})

	t.Run("random", func(t *testing.T) {
		svc, _, _ := newTestProcesses(t, &fakeLLM{})
		svc.pick = func(int) int { return 1 }
		next, err := svc.ChooseNextNode(context.Background(), current, candidates, false)
		require.NoError(t, err)
		assert.Equal(t, "c", next)
	})

	t.Run("model with trailing junk", func(t *testing.T) {
		llm := &fakeLLM{reply: func([]models.Turn) string { return `{"next_node_id": "b"}  trailing junk` }}
		svc, _, _ := newTestProcesses(t, llm)
		next, err := svc.ChooseNextNode(context.Background(), current, candidates, true)
		require.NoError(t, err)
		assert.Equal(t, "b", next)
		assert.Contains(t, llm.lastCall()[1].Content, `"header": "Intro"`)
	})

	t.Run("model names unknown node", func(t *testing.T) {
		llm := &fakeLLM{reply: func([]models.Turn) string { return `{"next_node_id": "zzz"}` }}
		svc, _, _ := newTestProcesses(t, llm)
		_, err := svc.ChooseNextNode(context.Background(), current, candidates, true)
		assert.True(t, apperr.Is(err, apperr.KindMalformedLLM))
	})

	t.Run("model returns prose", func(t *testing.T) {
		llm := &fakeLLM{reply: func([]models.Turn) string { return "not json" }}
		svc, _, _ := newTestProcesses(t, llm)
		_, err := svc.ChooseNextNode(context.Background(), current, candidates, true)
		assert.True(t, apperr.Is(err, apperr.KindMalformedLLM))
	})
}
