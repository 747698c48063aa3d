package services

import (
	"context"
	"fmt"
	"math/rand/v2"
	"path"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/RPLaine/newsroom-processor/internal/apperr"
	"github.com/RPLaine/newsroom-processor/internal/core"
	db "github.com/RPLaine/newsroom-processor/internal/core/database"
	"github.com/RPLaine/newsroom-processor/internal/core/ingestion_engine"
	"github.com/RPLaine/newsroom-processor/internal/core/llm"
	"github.com/RPLaine/newsroom-processor/internal/models"
)

const (
	DefaultStepInterval = 5 * time.Second
	minStepInterval     = 100 * time.Millisecond
)

// StartOptions configures a new process.
type StartOptions struct {
	Structure     models.Structure
	AutoAdvance   bool
	Interval      time.Duration
	GenerateFiles bool
}

// ProcessService walks user-authored node graphs. Process state lives in
// the store and is read through on every call; only the auto-advance
// loops are held in memory.
type ProcessService struct {
	db    core.DbClient
	llm   core.LLMProvider
	locks *db.KeyedLocker
	log   *zap.Logger
	now   func() time.Time
	pick  func(n int) int

	archiver ingestion_engine.Archiver

	baseCtx    context.Context
	cancelBase context.CancelFunc

	mu      sync.Mutex
	runners map[string]*runner
}

// runner is the auto-advance loop of one process.
type runner struct {
	cancel context.CancelFunc
	done   chan struct{}
	reset  chan struct{}
}

func NewProcessService(dbc core.DbClient, provider core.LLMProvider, locks *db.KeyedLocker, log *zap.Logger) *ProcessService {
	ctx, cancel := context.WithCancel(context.Background())
	return &ProcessService{
		db:         dbc,
		llm:        provider,
		locks:      locks,
		log:        log,
		now:        time.Now,
		pick:       rand.IntN,
		baseCtx:    ctx,
		cancelBase: cancel,
		runners:    make(map[string]*runner),
	}
}

// WithArchiver mirrors generated files to object storage.
func (s *ProcessService) WithArchiver(a ingestion_engine.Archiver) *ProcessService {
	s.archiver = a
	return s
}

func (s *ProcessService) Start(ctx context.Context, userID string, opts StartOptions) (*models.Process, error) {
	if err := validateStructure(opts.Structure); err != nil {
		return nil, err
	}
	start, err := resolveStartNode(opts.Structure.Nodes)
	if err != nil {
		return nil, err
	}

	now := s.now().Unix()
	p := &models.Process{
		ID:            uuid.NewString(),
		UserID:        userID,
		Structure:     opts.Structure,
		CurrentNodeID: start.ID,
		VisitedNodes:  []string{start.ID},
		Path:          []models.PathEntry{{NodeID: start.ID, Timestamp: now}},
		Status:        models.ProcessRunning,
		AutoAdvance:   opts.AutoAdvance,
		GenerateFiles: opts.GenerateFiles,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	interval := opts.Interval
	if p.AutoAdvance {
		if interval <= 0 {
			interval = DefaultStepInterval
		}
		interval = max(interval, minStepInterval)
		p.IntervalMS = interval.Milliseconds()
	}

	// The loop is registered before the first write so no reader sees an
	// auto-advancing process without one.
	if p.AutoAdvance {
		p.AutoAdvance = s.startRunner(userID, p.ID, interval)
	}
	if err := s.commit(ctx, p); err != nil {
		s.stopRunner(p.ID)
		return nil, err
	}
	s.log.Info("process started",
		zap.String("user_id", userID),
		zap.String("process_id", p.ID),
		zap.String("start_node", start.ID),
		zap.Bool("auto_advance", p.AutoAdvance))

	if p.GenerateFiles {
		s.generateBestEffort(ctx, p, start)
	}
	return clone(p), nil
}

// Status returns the current state of a process owned by userID.
func (s *ProcessService) Status(ctx context.Context, userID, processID string) (*models.Process, error) {
	p, err := s.load(ctx, userID, processID)
	if err != nil {
		return nil, err
	}
	return clone(p), nil
}

func (s *ProcessService) List(ctx context.Context, userID string) ([]models.Process, error) {
	list, err := s.db.ListProcesses(ctx, userID)
	if err != nil {
		return nil, err
	}
	for i := range list {
		s.reconcile(&list[i])
	}
	return list, nil
}

// Step advances a process by one edge and postpones its next automatic step.
func (s *ProcessService) Step(ctx context.Context, userID, processID string) (*models.Process, error) {
	p, err := s.step(ctx, userID, processID)
	if err != nil {
		return nil, err
	}
	s.nudge(processID)
	return p, nil
}

func (s *ProcessService) step(ctx context.Context, userID, processID string) (*models.Process, error) {
	unlock, err := s.locks.Lock(ctx, processLockKey(processID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	cur, err := s.load(ctx, userID, processID)
	if err != nil {
		return nil, err
	}
	if cur.Done() {
		return clone(cur), nil
	}

	next := clone(cur)
	moved := s.advance(next)
	next.UpdatedAt = max(s.now().Unix(), cur.UpdatedAt)
	if err := s.commit(ctx, next); err != nil {
		return nil, err
	}

	switch {
	case next.Status == models.ProcessFailed:
		s.log.Warn("process failed", zap.String("process_id", processID), zap.String("error", next.Error))
	case next.Status == models.ProcessCompleted:
		s.log.Info("process completed", zap.String("process_id", processID), zap.Int("steps", len(next.Path)))
	case moved && next.GenerateFiles:
		if node, ok := next.Structure.Node(next.CurrentNodeID); ok {
			s.generateBestEffort(ctx, next, node)
		}
	}
	return clone(next), nil
}

// advance applies one traversal step to p and reports whether it moved.
func (s *ProcessService) advance(p *models.Process) bool {
	current, ok := p.Structure.Node(p.CurrentNodeID)
	if !ok {
		p.Status = models.ProcessFailed
		p.Error = fmt.Sprintf("current node %s is not part of the structure", p.CurrentNodeID)
		return false
	}
	if current.IsTerminal() {
		p.Status = models.ProcessCompleted
		return false
	}

	edges := p.Structure.Outgoing(current.ID)
	if len(edges) == 0 {
		p.Status = models.ProcessCompleted
		return false
	}
	edge := edges[s.pick(len(edges))]
	target, ok := p.Structure.Node(edge.To)
	if !ok {
		p.Status = models.ProcessFailed
		p.Error = fmt.Sprintf("connection from %s points to unknown node %s", current.ID, edge.To)
		return false
	}

	p.CurrentNodeID = edge.To
	p.VisitedNodes = append(p.VisitedNodes, edge.To)
	p.Path = append(p.Path, models.PathEntry{NodeID: edge.To, Timestamp: s.now().Unix()})
	if target.IsTerminal() {
		p.Status = models.ProcessCompleted
	}
	return true
}

// Stop cancels automatic stepping. The process itself keeps its position
// and can still be stepped by hand.
func (s *ProcessService) Stop(ctx context.Context, userID, processID string) (*models.Process, error) {
	if _, err := s.load(ctx, userID, processID); err != nil {
		return nil, err
	}
	s.stopRunner(processID)

	unlock, err := s.locks.Lock(ctx, processLockKey(processID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	// Read the stored flag directly; with the loop gone load would already
	// report it cleared.
	p, err := s.db.GetProcess(ctx, userID, processID)
	if err != nil {
		return nil, err
	}
	if !p.AutoAdvance {
		return p, nil
	}
	next := clone(p)
	next.AutoAdvance = false
	next.UpdatedAt = max(s.now().Unix(), p.UpdatedAt)
	if err := s.commit(ctx, next); err != nil {
		return nil, err
	}
	s.log.Info("process auto-advance stopped", zap.String("process_id", processID))
	return clone(next), nil
}

// ChooseNextNode picks a successor for current among candidates. It
// returns "" when there is none. With useLLM the model makes the choice
// and its answer must name one of the candidates.
func (s *ProcessService) ChooseNextNode(ctx context.Context, current models.Node, candidates []models.Node, useLLM bool) (string, error) {
	if len(candidates) == 0 {
		return "", nil
	}
	if !useLLM {
		return candidates[s.pick(len(candidates))].ID, nil
	}

	raw, err := s.llm.Generate(ctx, chooseNodeTurns(current, candidates), core.SamplingConfig{})
	if err != nil {
		return "", err
	}
	var answer struct {
		NextNodeID any `json:"next_node_id"`
	}
	if err := llm.ExtractJSON(raw, &answer); err != nil {
		return "", err
	}
	id := strings.TrimSpace(fmt.Sprint(answer.NextNodeID))
	if !slices.ContainsFunc(candidates, func(n models.Node) bool { return n.ID == id }) {
		s.log.Warn("model chose an unknown node", zap.String("answer", id))
		return "", apperr.MalformedLLM("The model chose a node that is not a candidate")
	}
	return id, nil
}

// ExecuteNode generates a file for node and registers it with the process.
// Start and end nodes generate nothing and yield a nil file.
func (s *ProcessService) ExecuteNode(ctx context.Context, userID, processID string, node models.Node) (*models.GeneratedFile, error) {
	p, err := s.load(ctx, userID, processID)
	if err != nil {
		return nil, err
	}
	return s.generateFile(ctx, p, node)
}

func (s *ProcessService) ListFiles(ctx context.Context, userID, processID string) ([]models.GeneratedFile, error) {
	if _, err := s.load(ctx, userID, processID); err != nil {
		return nil, err
	}
	reg, err := s.db.GetFileRegistry(ctx, userID, processID)
	if err != nil {
		return nil, err
	}
	if reg.Files == nil {
		return []models.GeneratedFile{}, nil
	}
	return reg.Files, nil
}

func (s *ProcessService) DeleteFile(ctx context.Context, userID, processID, fileID string) error {
	if _, err := s.load(ctx, userID, processID); err != nil {
		return err
	}
	unlock, err := s.locks.Lock(ctx, filesLockKey(processID))
	if err != nil {
		return err
	}
	defer unlock()

	reg, err := s.db.GetFileRegistry(ctx, userID, processID)
	if err != nil {
		return err
	}
	idx := slices.IndexFunc(reg.Files, func(f models.GeneratedFile) bool { return f.ID == fileID })
	if idx < 0 {
		return apperr.NotFound("File not found")
	}
	filename := reg.Files[idx].Filename
	reg.Files = slices.Delete(reg.Files, idx, idx+1)
	if err := s.db.SaveFileRegistry(ctx, userID, processID, reg); err != nil {
		return err
	}

	if s.archiver != nil {
		s.archiver.Enqueue(ingestion_engine.ArchiveTask{Key: generatedFileKey(userID, processID, filename), Delete: true})
	}
	s.log.Info("generated file deleted", zap.String("process_id", processID), zap.String("filename", filename))
	return nil
}

// Shutdown cancels every auto-advance loop and waits for them to exit.
func (s *ProcessService) Shutdown(ctx context.Context) error {
	s.cancelBase()

	s.mu.Lock()
	pending := make([]*runner, 0, len(s.runners))
	for id, r := range s.runners {
		pending = append(pending, r)
		delete(s.runners, id)
	}
	s.mu.Unlock()

	for _, r := range pending {
		select {
		case <-r.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (s *ProcessService) generateBestEffort(ctx context.Context, p *models.Process, node models.Node) {
	if _, err := s.generateFile(ctx, p, node); err != nil {
		s.log.Warn("file generation failed",
			zap.String("process_id", p.ID),
			zap.String("node_id", node.ID),
			zap.Error(err))
	}
}

func (s *ProcessService) generateFile(ctx context.Context, p *models.Process, node models.Node) (*models.GeneratedFile, error) {
	if node.IsStart() || node.IsTerminal() {
		return nil, nil
	}

	content, err := s.llm.Generate(ctx, fileGenerationTurns(node), core.SamplingConfig{})
	if err != nil {
		return nil, err
	}

	now := s.now().Unix()
	base := node.Name
	if base == "" {
		base = node.Type
	}
	file := models.GeneratedFile{
		ID:        uuid.NewString(),
		Filename:  fmt.Sprintf("%s.%s", sanitizeFilename(fmt.Sprintf("%s_%d", base, now)), DetectFileExtension(content)),
		NodeID:    node.ID,
		NodeName:  node.Name,
		CreatedAt: now,
		Size:      len(content),
		Content:   content,
	}

	unlock, err := s.locks.Lock(ctx, filesLockKey(p.ID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	reg, err := s.db.GetFileRegistry(ctx, p.UserID, p.ID)
	if err != nil {
		return nil, err
	}
	reg.Files = append(reg.Files, file)
	if err := s.db.SaveFileRegistry(ctx, p.UserID, p.ID, reg); err != nil {
		return nil, err
	}

	if s.archiver != nil {
		s.archiver.Enqueue(ingestion_engine.ArchiveTask{
			Key:         generatedFileKey(p.UserID, p.ID, file.Filename),
			Data:        []byte(content),
			ContentType: contentTypeFor(file.Filename),
		})
	}

	s.log.Info("file generated",
		zap.String("process_id", p.ID),
		zap.String("node_id", node.ID),
		zap.String("filename", file.Filename))
	return &file, nil
}

// load reads a process from the store.
func (s *ProcessService) load(ctx context.Context, userID, processID string) (*models.Process, error) {
	if processID == "" {
		return nil, apperr.Validation("Process ID is required")
	}
	p, err := s.db.GetProcess(ctx, userID, processID)
	if err != nil {
		return nil, err
	}
	s.reconcile(p)
	return p, nil
}

// reconcile clears AutoAdvance when this service has no loop for p, as
// after a restart or shutdown.
func (s *ProcessService) reconcile(p *models.Process) {
	if !p.AutoAdvance {
		return
	}
	s.mu.Lock()
	_, ok := s.runners[p.ID]
	s.mu.Unlock()
	p.AutoAdvance = ok
}

func (s *ProcessService) commit(ctx context.Context, p *models.Process) error {
	return s.db.SaveProcess(ctx, p)
}

func (s *ProcessService) startRunner(userID, processID string, interval time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.baseCtx.Err() != nil {
		return false
	}
	if _, exists := s.runners[processID]; exists {
		return true
	}

	ctx, cancel := context.WithCancel(s.baseCtx)
	r := &runner{cancel: cancel, done: make(chan struct{}), reset: make(chan struct{}, 1)}
	s.runners[processID] = r
	go s.run(ctx, userID, processID, interval, r)
	return true
}

func (s *ProcessService) run(ctx context.Context, userID, processID string, interval time.Duration, r *runner) {
	defer close(r.done)
	defer s.dropRunner(processID, r)

	t := time.NewTimer(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.reset:
			t.Reset(interval)
		case <-t.C:
			p, err := s.step(ctx, userID, processID)
			switch {
			case ctx.Err() != nil:
				return
			case apperr.Is(err, apperr.KindNotFound):
				return
			case err != nil:
				s.log.Warn("automatic step failed", zap.String("process_id", processID), zap.Error(err))
			case p.Done():
				return
			}
			t.Reset(interval)
		}
	}
}

// nudge restarts the countdown of a running auto-advance loop.
func (s *ProcessService) nudge(processID string) {
	s.mu.Lock()
	r, ok := s.runners[processID]
	s.mu.Unlock()
	if !ok {
		return
	}
	select {
	case r.reset <- struct{}{}:
	default:
	}
}

func (s *ProcessService) stopRunner(processID string) {
	s.mu.Lock()
	r, ok := s.runners[processID]
	delete(s.runners, processID)
	s.mu.Unlock()
	if !ok {
		return
	}
	r.cancel()
	<-r.done
}

func (s *ProcessService) dropRunner(processID string, r *runner) {
	s.mu.Lock()
	if s.runners[processID] == r {
		delete(s.runners, processID)
	}
	s.mu.Unlock()
	r.cancel()
}

func clone(p *models.Process) *models.Process {
	c := *p
	c.VisitedNodes = slices.Clone(p.VisitedNodes)
	c.Path = slices.Clone(p.Path)
	return &c
}

func generatedFileKey(userID, processID, filename string) string {
	return path.Join("users", userID, "processes", processID, "files", filename)
}

func processLockKey(processID string) string { return "process:" + processID }

func filesLockKey(processID string) string { return "files:" + processID }
