package dispatcher

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"time"

	"github.com/RPLaine/newsroom-processor/internal/apperr"
	"github.com/RPLaine/newsroom-processor/internal/models"
	"github.com/RPLaine/newsroom-processor/internal/services"
)

func (d *Dispatcher) routes() map[string]handlerFunc {
	return map[string]handlerFunc{
		"create_job":   d.createJob,
		"get_jobs":     d.getJobs,
		"get_job":      d.getJob,
		"continue_job": d.continueJob,
		"delete_job":   d.deleteJob,
		"search_web":   d.searchWeb,
		"read_rss":     d.readRSS,
		"load_file":    d.loadFile,
		"process_data": d.processData,
		"save_output":  d.saveOutput,

		"start_process":       d.startProcess,
		"get_process_status":  d.processStatus,
		"step_process":        d.stepProcess,
		"stop_process":        d.stopProcess,
		"list_processes":      d.listProcesses,
		"choose_next_node":    d.chooseNextNode,
		"execute_node":        d.executeNode,
		"list_process_files":  d.listProcessFiles,
		"delete_process_file": d.deleteProcessFile,
	}
}

func (d *Dispatcher) createJob(ctx context.Context, userID string, raw json.RawMessage) (result, error) {
	p, err := decode[createJobPayload](d.validate, raw)
	if err != nil {
		return result{}, err
	}
	job, err := d.jobs.CreateJob(ctx, userID, p.Name, p.Description, p.JobType)
	if err != nil {
		return result{}, err
	}
	return result{"Job created", map[string]any{"job_id": job.ID, "timestamp": job.CreatedAt}}, nil
}

func (d *Dispatcher) getJobs(ctx context.Context, userID string, _ json.RawMessage) (result, error) {
	jobs, err := d.jobs.ListJobs(ctx, userID)
	if err != nil {
		return result{}, err
	}
	return result{"Jobs retrieved", map[string]any{"jobs": jobs}}, nil
}

func (d *Dispatcher) getJob(ctx context.Context, userID string, raw json.RawMessage) (result, error) {
	p, err := decode[jobPayload](d.validate, raw)
	if err != nil {
		return result{}, err
	}
	job, err := d.jobs.GetJob(ctx, userID, p.JobID)
	if err != nil {
		return result{}, err
	}
	return result{"Job retrieved", map[string]any{"job": job}}, nil
}

func (d *Dispatcher) continueJob(ctx context.Context, userID string, raw json.RawMessage) (result, error) {
	p, err := decode[continueJobPayload](d.validate, raw)
	if err != nil {
		return result{}, err
	}
	job, answer, err := d.jobs.ContinueJob(ctx, userID, p.JobID, p.UserPrompt)
	if err != nil {
		return result{}, err
	}
	return result{"Job continued", map[string]any{"job": job, "assistant_response": answer}}, nil
}

func (d *Dispatcher) deleteJob(ctx context.Context, userID string, raw json.RawMessage) (result, error) {
	p, err := decode[jobPayload](d.validate, raw)
	if err != nil {
		return result{}, err
	}
	if err := d.jobs.DeleteJob(ctx, userID, p.JobID); err != nil {
		return result{}, err
	}
	return result{"Job deleted", map[string]any{}}, nil
}

func (d *Dispatcher) searchWeb(ctx context.Context, userID string, raw json.RawMessage) (result, error) {
	p, err := decode[searchWebPayload](d.validate, raw)
	if err != nil {
		return result{}, err
	}
	return jobResult("Search results added")(d.jobs.SearchWeb(ctx, userID, p.JobID, p.Query))
}

func (d *Dispatcher) readRSS(ctx context.Context, userID string, raw json.RawMessage) (result, error) {
	p, err := decode[readRSSPayload](d.validate, raw)
	if err != nil {
		return result{}, err
	}
	return jobResult("RSS feed added")(d.jobs.ReadRSS(ctx, userID, p.JobID, p.RSSURL))
}

func (d *Dispatcher) loadFile(ctx context.Context, userID string, raw json.RawMessage) (result, error) {
	p, err := decode[loadFilePayload](d.validate, raw)
	if err != nil {
		return result{}, err
	}
	upload := services.FileUpload{Name: p.FileName, Content: p.FileContent, ContentType: p.ContentType}
	if p.FileData != "" {
		data, err := base64.StdEncoding.DecodeString(p.FileData)
		if err != nil {
			return result{}, apperr.Validation("file_data must be base64 encoded")
		}
		upload.Data = data
	}
	return jobResult("File loaded")(d.jobs.LoadFile(ctx, userID, p.JobID, upload))
}

func (d *Dispatcher) processData(ctx context.Context, userID string, raw json.RawMessage) (result, error) {
	p, err := decode[processDataPayload](d.validate, raw)
	if err != nil {
		return result{}, err
	}
	job, answer, err := d.jobs.Process(ctx, userID, p.JobID, p.ProcessingType, p.Prompt)
	if err != nil {
		return result{}, err
	}
	return result{"Data processed", map[string]any{"assistant_response": answer, "job": job}}, nil
}

func (d *Dispatcher) saveOutput(ctx context.Context, userID string, raw json.RawMessage) (result, error) {
	p, err := decode[saveOutputPayload](d.validate, raw)
	if err != nil {
		return result{}, err
	}
	return jobResult("Output saved")(d.jobs.SaveOutput(ctx, userID, p.JobID, p.FileName, p.Content))
}

func jobResult(message string) func(*models.Job, error) (result, error) {
	return func(job *models.Job, err error) (result, error) {
		if err != nil {
			return result{}, err
		}
		return result{message, map[string]any{"job": job}}, nil
	}
}

func (d *Dispatcher) startProcess(ctx context.Context, userID string, raw json.RawMessage) (result, error) {
	p, err := decode[startProcessPayload](d.validate, raw)
	if err != nil {
		return result{}, err
	}
	proc, err := d.processes.Start(ctx, userID, services.StartOptions{
		Structure:     *p.StructureData,
		AutoAdvance:   p.AutoAdvance,
		Interval:      time.Duration(p.IntervalMS) * time.Millisecond,
		GenerateFiles: p.GenerateFiles,
	})
	if err != nil {
		return result{}, err
	}
	data := processView(proc)
	data["process_id"] = proc.ID
	return result{"Process started", data}, nil
}

func (d *Dispatcher) processStatus(ctx context.Context, userID string, raw json.RawMessage) (result, error) {
	p, err := decode[processPayload](d.validate, raw)
	if err != nil {
		return result{}, err
	}
	proc, err := d.processes.Status(ctx, userID, p.ProcessID)
	if err != nil {
		return result{}, err
	}
	return result{"Process status retrieved", processView(proc)}, nil
}

func (d *Dispatcher) stepProcess(ctx context.Context, userID string, raw json.RawMessage) (result, error) {
	p, err := decode[processPayload](d.validate, raw)
	if err != nil {
		return result{}, err
	}
	proc, err := d.processes.Step(ctx, userID, p.ProcessID)
	if err != nil {
		return result{}, err
	}
	return result{"Process advanced", processView(proc)}, nil
}

func (d *Dispatcher) stopProcess(ctx context.Context, userID string, raw json.RawMessage) (result, error) {
	p, err := decode[processPayload](d.validate, raw)
	if err != nil {
		return result{}, err
	}
	proc, err := d.processes.Stop(ctx, userID, p.ProcessID)
	if err != nil {
		return result{}, err
	}
	return result{"Process stopped", processView(proc)}, nil
}

func (d *Dispatcher) listProcesses(ctx context.Context, userID string, _ json.RawMessage) (result, error) {
	procs, err := d.processes.List(ctx, userID)
	if err != nil {
		return result{}, err
	}
	views := make([]map[string]any, 0, len(procs))
	for i := range procs {
		v := processView(&procs[i])
		v["process_id"] = procs[i].ID
		views = append(views, v)
	}
	return result{"Processes retrieved", map[string]any{"processes": views}}, nil
}

func processView(p *models.Process) map[string]any {
	view := map[string]any{
		"status":        p.Status,
		"current_node":  nil,
		"path":          p.Path,
		"visited_nodes": p.VisitedNodes,
		"auto_advance":  p.AutoAdvance,
	}
	if node, ok := p.Structure.Node(p.CurrentNodeID); ok {
		view["current_node"] = node
	}
	if p.Error != "" {
		view["error"] = p.Error
	}
	return view
}

func (d *Dispatcher) chooseNextNode(ctx context.Context, _ string, raw json.RawMessage) (result, error) {
	p, err := decode[chooseNextNodePayload](d.validate, raw)
	if err != nil {
		return result{}, err
	}
	next, err := d.processes.ChooseNextNode(ctx, *p.CurrentNode, candidates(*p.CurrentNode, p.Connections, p.Nodes), p.UseLLM)
	if err != nil {
		return result{}, err
	}
	var nextID *string
	if next != "" {
		nextID = &next
	}
	return result{"Next node chosen", map[string]any{"next_node_id": nextID}}, nil
}

// candidates resolves choose_next_node connections into the nodes they
// lead to. Edges that leave some other node are ignored.
func candidates(current models.Node, refs []candidateRef, nodes []models.Node) []models.Node {
	byID := make(map[string]models.Node, len(nodes))
	for _, n := range nodes {
		byID[n.ID] = n
	}

	out := make([]models.Node, 0, len(refs))
	for _, ref := range refs {
		to := firstNonEmpty(ref.To, ref.Target)
		if to == "" {
			if ref.ID != "" {
				out = append(out, ref.Node)
			}
			continue
		}
		if from := firstNonEmpty(ref.From, ref.Source); from != "" && from != current.ID {
			continue
		}
		if n, ok := byID[to]; ok {
			out = append(out, n)
		} else {
			out = append(out, models.Node{ID: to})
		}
	}
	return out
}

func (d *Dispatcher) executeNode(ctx context.Context, userID string, raw json.RawMessage) (result, error) {
	p, err := decode[executeNodePayload](d.validate, raw)
	if err != nil {
		return result{}, err
	}
	processID := firstNonEmpty(p.ProcessID, p.StructureID)

	var node models.Node
	if p.CurrentNode != nil {
		node = *p.CurrentNode
	} else {
		proc, err := d.processes.Status(ctx, userID, processID)
		if err != nil {
			return result{}, err
		}
		n, ok := proc.Structure.Node(p.NodeID)
		if !ok {
			return result{}, apperr.NotFound("Node not found")
		}
		node = n
	}

	file, err := d.processes.ExecuteNode(ctx, userID, processID, node)
	if err != nil {
		return result{}, err
	}
	if file == nil {
		return result{"Node executed (no file generated)", map[string]any{
			"node_executed":  true,
			"file_generated": false,
		}}, nil
	}
	return result{"File " + file.Filename + " generated successfully", map[string]any{
		"node_executed":  true,
		"file_generated": true,
		"file_info":      file,
	}}, nil
}

func (d *Dispatcher) listProcessFiles(ctx context.Context, userID string, raw json.RawMessage) (result, error) {
	p, err := decode[processPayload](d.validate, raw)
	if err != nil {
		return result{}, err
	}
	files, err := d.processes.ListFiles(ctx, userID, p.ProcessID)
	if err != nil {
		return result{}, err
	}
	return result{"Files retrieved", map[string]any{"files": files}}, nil
}

func (d *Dispatcher) deleteProcessFile(ctx context.Context, userID string, raw json.RawMessage) (result, error) {
	p, err := decode[processFilePayload](d.validate, raw)
	if err != nil {
		return result{}, err
	}
	if err := d.processes.DeleteFile(ctx, userID, p.ProcessID, p.FileID); err != nil {
		return result{}, err
	}
	return result{"File deleted", map[string]any{}}, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
