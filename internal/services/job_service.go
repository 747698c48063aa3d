package services

import (
	"context"
	"mime"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/RPLaine/newsroom-processor/internal/apperr"
	"github.com/RPLaine/newsroom-processor/internal/core"
	db "github.com/RPLaine/newsroom-processor/internal/core/database"
	"github.com/RPLaine/newsroom-processor/internal/core/ingestion_engine"
	"github.com/RPLaine/newsroom-processor/internal/models"
)

// Processing modes accepted by Process.
const (
	ModePrompt  = "prompt"
	ModeRefine  = "refine"
	ModeReflect = "reflect"
)

// JobService owns the job lifecycle. Every read-modify-write of a job runs
// under that job's lock; changes to the user's job index run under the
// user's lock, always taken after the job lock.
type JobService struct {
	db        core.DbClient
	llm       core.LLMProvider
	locks     *db.KeyedLocker
	log       *zap.Logger
	search    SearchProvider
	feeds     FeedReader
	extractor core.DocumentExtractor
	archiver  ingestion_engine.Archiver
	now       func() time.Time
}

func NewJobService(dbc core.DbClient, llm core.LLMProvider, locks *db.KeyedLocker, log *zap.Logger) *JobService {
	return &JobService{
		db:     dbc,
		llm:    llm,
		locks:  locks,
		log:    log,
		search: StubSearch{},
		feeds:  StubFeedReader{},
		now:    time.Now,
	}
}

// WithExtractor enables text extraction for binary uploads.
func (s *JobService) WithExtractor(e core.DocumentExtractor) *JobService {
	s.extractor = e
	return s
}

// WithArchiver mirrors saved outputs to object storage.
func (s *JobService) WithArchiver(a ingestion_engine.Archiver) *JobService {
	s.archiver = a
	return s
}

func (s *JobService) WithSources(search SearchProvider, feeds FeedReader) *JobService {
	s.search, s.feeds = search, feeds
	return s
}

// FileUpload is the payload of load_file. Either Content or Data is set.
type FileUpload struct {
	Name        string
	Content     string
	Data        []byte
	ContentType string
}

func (s *JobService) CreateJob(ctx context.Context, userID, name, description, jobType string) (*models.Job, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperr.Validation("Job name is required")
	}

	now := s.now().Unix()
	job := &models.Job{
		ID:           uuid.NewString(),
		Name:         name,
		Description:  description,
		JobType:      jobType,
		CreatedAt:    now,
		LastModified: now,
		Inputs:       []models.InputRecord{},
		Conversation: []models.Turn{},
		Outputs:      []models.Output{},
	}

	unlock, err := s.locks.Lock(ctx, userLockKey(userID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	user, err := s.db.EnsureUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := s.db.SaveJob(ctx, userID, job); err != nil {
		return nil, err
	}
	user.Jobs = append(user.Jobs, job.Summary())
	if err := s.db.SaveUser(ctx, user); err != nil {
		return nil, err
	}

	s.log.Info("job created", zap.String("user_id", userID), zap.String("job_id", job.ID))
	return job, nil
}

// ListJobs returns the job summaries in creation order.
func (s *JobService) ListJobs(ctx context.Context, userID string) ([]models.JobSummary, error) {
	user, err := s.db.EnsureUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.Jobs == nil {
		return []models.JobSummary{}, nil
	}
	return user.Jobs, nil
}

func (s *JobService) GetJob(ctx context.Context, userID, jobID string) (*models.Job, error) {
	return s.loadOwned(ctx, userID, jobID)
}

// ContinueJob appends the user's prompt and the model's reply to the
// conversation. Nothing is stored if the model call fails.
func (s *JobService) ContinueJob(ctx context.Context, userID, jobID, prompt string) (*models.Job, string, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, "", apperr.Validation("Prompt is required")
	}

	var answer string
	job, err := s.mutate(ctx, userID, jobID, func(job *models.Job) error {
		userTurn := models.Turn{Role: models.RoleUser, Content: prompt, Timestamp: s.now().Unix()}
		turns := append(append([]models.Turn{}, job.Conversation...), userTurn)

		reply, err := s.llm.Generate(ctx, turns, core.SamplingConfig{})
		if err != nil {
			return err
		}
		answer = reply
		job.Conversation = append(job.Conversation, userTurn,
			models.Turn{Role: models.RoleAssistant, Content: reply, Timestamp: s.now().Unix()})
		return nil
	})
	if err != nil {
		return nil, "", err
	}
	return job, answer, nil
}

// DeleteJob removes the job from the user's index. Removing its files is
// best effort; a failure there is logged only.
func (s *JobService) DeleteJob(ctx context.Context, userID, jobID string) error {
	unlockJob, err := s.locks.Lock(ctx, jobLockKey(jobID))
	if err != nil {
		return err
	}
	defer unlockJob()

	unlockUser, err := s.locks.Lock(ctx, userLockKey(userID))
	if err != nil {
		return err
	}
	defer unlockUser()

	user, err := s.db.EnsureUser(ctx, userID)
	if err != nil {
		return err
	}
	idx := indexOfJob(user.Jobs, jobID)
	if idx < 0 {
		return apperr.NotFound("Job not found")
	}
	user.Jobs = append(user.Jobs[:idx], user.Jobs[idx+1:]...)
	if err := s.db.SaveUser(ctx, user); err != nil {
		return err
	}

	s.unmirrorOutputs(ctx, userID, jobID)
	if err := s.db.DeleteJobData(ctx, userID, jobID); err != nil {
		s.log.Warn("failed to remove job files", zap.String("job_id", jobID), zap.Error(err))
	}
	s.log.Info("job deleted", zap.String("user_id", userID), zap.String("job_id", jobID))
	return nil
}

func (s *JobService) SearchWeb(ctx context.Context, userID, jobID, query string) (*models.Job, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, apperr.Validation("Search query is required")
	}
	return s.mutate(ctx, userID, jobID, func(job *models.Job) error {
		results, err := s.search.Search(ctx, query)
		if err != nil {
			return apperr.Wrap(apperr.KindInternal, "Search failed", err)
		}
		job.Inputs = append(job.Inputs, models.InputRecord{
			Type:      models.InputWebSearch,
			Query:     query,
			Results:   results,
			Timestamp: s.now().Unix(),
		})
		return nil
	})
}

func (s *JobService) ReadRSS(ctx context.Context, userID, jobID, feedURL string) (*models.Job, error) {
	feedURL = strings.TrimSpace(feedURL)
	if feedURL == "" {
		return nil, apperr.Validation("RSS URL is required")
	}
	return s.mutate(ctx, userID, jobID, func(job *models.Job) error {
		items, err := s.feeds.Read(ctx, feedURL)
		if err != nil {
			return apperr.Wrap(apperr.KindInternal, "Reading the feed failed", err)
		}
		job.Inputs = append(job.Inputs, models.InputRecord{
			Type:      models.InputRSSFeed,
			URL:       feedURL,
			Items:     items,
			Timestamp: s.now().Unix(),
		})
		return nil
	})
}

func (s *JobService) LoadFile(ctx context.Context, userID, jobID string, f FileUpload) (*models.Job, error) {
	if strings.TrimSpace(f.Name) == "" {
		return nil, apperr.Validation("File name is required")
	}
	content, err := s.fileText(ctx, f)
	if err != nil {
		return nil, err
	}
	return s.mutate(ctx, userID, jobID, func(job *models.Job) error {
		job.Inputs = append(job.Inputs, models.InputRecord{
			Type:        models.InputFile,
			Name:        f.Name,
			Content:     content,
			ContentType: f.ContentType,
			Timestamp:   s.now().Unix(),
		})
		return nil
	})
}

func (s *JobService) fileText(ctx context.Context, f FileUpload) (string, error) {
	if len(f.Data) == 0 {
		if f.Content == "" {
			return "", apperr.Validation("File content is required")
		}
		return f.Content, nil
	}
	if f.ContentType == "" || strings.HasPrefix(f.ContentType, "text/") {
		return string(f.Data), nil
	}
	if s.extractor == nil {
		return "", apperr.Validation("Unsupported file type")
	}
	text, err := s.extractor.ExtractText(ctx, f.Data, f.ContentType)
	if err != nil {
		s.log.Warn("document extraction failed", zap.String("file", f.Name), zap.Error(err))
		return "", apperr.Validation("Could not read the uploaded file")
	}
	return text, nil
}

// SaveOutput stores an output file, replacing any output with the same name.
func (s *JobService) SaveOutput(ctx context.Context, userID, jobID, fileName, content string) (*models.Job, error) {
	if strings.TrimSpace(fileName) == "" {
		return nil, apperr.Validation("File name is required")
	}
	if content == "" {
		return nil, apperr.Validation("Content is required")
	}

	job, err := s.mutate(ctx, userID, jobID, func(job *models.Job) error {
		job.UpsertOutput(models.Output{FileName: fileName, Content: content, Timestamp: s.now().Unix()})
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.archiver != nil {
		s.archiver.Enqueue(ingestion_engine.ArchiveTask{
			Key:         outputKey(userID, jobID, fileName),
			Data:        []byte(content),
			ContentType: contentTypeFor(fileName),
		})
	}
	return job, nil
}

// unmirrorOutputs queues removal of the job's mirrored outputs. It must run
// before the job record is deleted.
func (s *JobService) unmirrorOutputs(ctx context.Context, userID, jobID string) {
	if s.archiver == nil {
		return
	}
	job, err := s.db.GetJob(ctx, userID, jobID)
	if err != nil {
		s.log.Warn("cannot list mirrored outputs of deleted job", zap.String("job_id", jobID), zap.Error(err))
		return
	}
	for _, out := range job.Outputs {
		s.archiver.Enqueue(ingestion_engine.ArchiveTask{Key: outputKey(userID, jobID, out.FileName), Delete: true})
	}
}

// outputKey is the object key of a mirrored output. The name keeps its
// directories, so a/x.txt and b/x.txt stay apart, and ".." cannot climb out
// of the job's prefix.
func outputKey(userID, jobID, fileName string) string {
	name := strings.TrimPrefix(path.Clean("/"+strings.ReplaceAll(fileName, "\\", "/")), "/")
	if name == "" {
		name = "_"
	}
	return path.Join("users", userID, "jobs", jobID, "outputs", name)
}

// Process sends a prompt built for the given mode to the model and records
// the exchange.
func (s *JobService) Process(ctx context.Context, userID, jobID, mode, prompt string) (*models.Job, string, error) {
	switch mode {
	case ModePrompt:
		if strings.TrimSpace(prompt) == "" {
			return nil, "", apperr.Validation("Prompt is required")
		}
	case ModeRefine, ModeReflect:
	default:
		return nil, "", apperr.Validation("Invalid processing type")
	}

	var answer string
	job, err := s.mutate(ctx, userID, jobID, func(job *models.Job) error {
		now := s.now().Unix()

		var request string
		var note models.Turn
		switch mode {
		case ModePrompt:
			request = prompt
			note = models.Turn{Role: models.RoleUser, Content: prompt, Timestamp: now}
		case ModeRefine:
			request = refinePrompt(job.Inputs)
			note = models.Turn{Role: models.RoleSystem, Content: refineTurnNote, Timestamp: now}
		case ModeReflect:
			request = reflectPrompt(job.Conversation)
			note = models.Turn{Role: models.RoleSystem, Content: reflectTurnNote, Timestamp: now}
		}

		turns := append(append([]models.Turn{}, job.Conversation...),
			models.Turn{Role: models.RoleUser, Content: request, Timestamp: now})
		reply, err := s.llm.Generate(ctx, turns, core.SamplingConfig{})
		if err != nil {
			return err
		}
		answer = reply
		job.Conversation = append(job.Conversation, note,
			models.Turn{Role: models.RoleAssistant, Content: reply, Timestamp: s.now().Unix()})
		return nil
	})
	if err != nil {
		return nil, "", err
	}

	s.log.Debug("job processed", zap.String("job_id", jobID), zap.String("mode", mode))
	return job, answer, nil
}

// mutate loads the job under its lock, applies fn and persists the result.
// The user's job summary is refreshed afterwards.
func (s *JobService) mutate(ctx context.Context, userID, jobID string, fn func(*models.Job) error) (*models.Job, error) {
	unlock, err := s.locks.Lock(ctx, jobLockKey(jobID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	job, err := s.loadOwned(ctx, userID, jobID)
	if err != nil {
		return nil, err
	}
	if err := fn(job); err != nil {
		return nil, err
	}
	job.Touch(s.now().Unix())
	if err := s.db.SaveJob(ctx, userID, job); err != nil {
		return nil, err
	}

	if err := s.refreshSummary(ctx, userID, job); err != nil {
		s.log.Warn("failed to refresh job summary", zap.String("job_id", jobID), zap.Error(err))
	}
	return job, nil
}

// loadOwned returns the job only while it is listed in the user's index, so
// a deleted job whose files survived stays invisible.
func (s *JobService) loadOwned(ctx context.Context, userID, jobID string) (*models.Job, error) {
	if jobID == "" {
		return nil, apperr.Validation("Job ID is required")
	}
	user, err := s.db.EnsureUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if indexOfJob(user.Jobs, jobID) < 0 {
		return nil, apperr.NotFound("Job not found")
	}
	return s.db.GetJob(ctx, userID, jobID)
}

func (s *JobService) refreshSummary(ctx context.Context, userID string, job *models.Job) error {
	unlock, err := s.locks.Lock(ctx, userLockKey(userID))
	if err != nil {
		return err
	}
	defer unlock()

	user, err := s.db.EnsureUser(ctx, userID)
	if err != nil {
		return err
	}
	idx := indexOfJob(user.Jobs, job.ID)
	if idx < 0 {
		return nil
	}
	user.Jobs[idx] = job.Summary()
	return s.db.SaveUser(ctx, user)
}

func indexOfJob(jobs []models.JobSummary, jobID string) int {
	for i, j := range jobs {
		if j.ID == jobID {
			return i
		}
	}
	return -1
}

func userLockKey(userID string) string { return "user:" + userID }

func jobLockKey(jobID string) string { return "job:" + jobID }

func contentTypeFor(name string) string {
	if ct := mime.TypeByExtension(filepath.Ext(name)); ct != "" {
		return ct
	}
	return "text/plain; charset=utf-8"
}
