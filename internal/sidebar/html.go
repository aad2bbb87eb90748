package sidebar

import (
	"bytes"
	"fmt"
	"html/template"
	"os"
	"path/filepath"

	"github.com/microcosm-cc/bluemonday"
	"github.com/rahul/conductor/internal/conductor"
	"github.com/rahul/conductor/internal/observability"
	"github.com/rahul/conductor/internal/plan"
)

var strict = bluemonday.StrictPolicy()

// clean strips every tag from model-produced text. The policy output is already
// escaped, so it is passed to the template as trusted HTML.
func clean(s string) template.HTML {
	return template.HTML(strict.Sanitize(s))
}

type subtaskView struct {
	Agent       template.HTML
	Function    template.HTML
	Description template.HTML
	Output      template.HTML
	Observation template.HTML
	Dot         template.CSS
	Running     bool
}

type taskView struct {
	Number   int
	Name     template.HTML
	Banner   template.CSS
	Dot      template.CSS
	Subtasks []subtaskView
	Memory   template.HTML
}

type pageView struct {
	Overall   template.HTML
	Iteration int
	Tasks     []taskView
}

var sidebarTmpl = template.Must(template.New("sidebar").Parse(`<style>
.sidebar { width: 300px; padding: 20px; box-sizing: border-box; overflow-y: auto; font-family: 'Inter', sans-serif; }
.sidebar-title { font-size: 20px; font-weight: bold; text-align: center; margin-bottom: 20px; }
.task-card { background-color: #FFFFFF; border-radius: 8px; box-shadow: 0 2px 8px rgba(0,0,0,0.1); margin-bottom: 20px; display: flex; flex-direction: column; }
.task-banner { padding: 8px; text-align: center; font-size: 14px; font-weight: bold; border-radius: 8px 8px 0 0; }
.task-content { padding: 15px; }
.task-header { display: flex; align-items: center; margin-bottom: 8px; }
.task-name { flex: 1; font-size: 13px; font-weight: bold; }
.subtasks { list-style: none; padding: 0; margin: 0; }
.subtask { margin-bottom: 8px; position: relative; }
.status-and-agent { display: flex; align-items: center; }
.agent-name { font-size: 12px; color: ` + colorAgent + `; font-weight: bold; }
.subtask-name { font-size: 12px; margin-left: 20px; margin-top: 2px; }
.status { width: 12px; height: 12px; border-radius: 50%; display: inline-block; margin-right: 8px; }
.status.running { animation: pulse 1s infinite alternate; }
@keyframes pulse { from { opacity: 1; } to { opacity: 0.3; } }
.tooltip .tooltiptext { visibility: hidden; width: 220px; background-color: #555; color: #fff; border-radius: 6px; padding: 8px; position: absolute; z-index: 1; left: 105%; top: 0; }
.tooltip:hover .tooltiptext { visibility: visible; }
.task-footer { font-size: 10px; text-align: center; padding: 8px; background-color: #90EE90; border-radius: 0 0 8px 8px; }
</style>
<div class="sidebar">
<div class="sidebar-title">Plan{{if .Overall}} &middot; {{.Overall}}{{end}}</div>
{{if .Iteration}}<div class="sidebar-title" style="font-size: 12px;">iteration {{.Iteration}}</div>
{{end}}
{{range .Tasks}}<div class="task-card">
<div class="task-banner" style="background-color: {{.Banner}};">Task {{.Number}}</div>
<div class="task-content">
<div class="task-header"><span class="status" style="background-color: {{.Dot}};"></span><div class="task-name">{{.Name}}</div></div>
<ul class="subtasks">
{{range .Subtasks}}<li class="subtask tooltip">
<div class="status-and-agent"><span class="status{{if .Running}} running{{end}}" style="background-color: {{.Dot}};"></span><div class="agent-name">{{.Agent}}:</div></div>
<div class="subtask-name">{{.Description}}</div>
<span class="tooltiptext"><strong>Agent:</strong> {{.Agent}}<br><strong>Function:</strong> {{.Function}}<br><strong>Output:</strong> {{.Output}}<br><strong>Observation:</strong> {{.Observation}}</span>
</li>
{{end}}</ul>
</div>
<div class="task-footer"><strong>Memory</strong><br>{{.Memory}}</div>
</div>
{{end}}</div>
`))

func buildPage(snap plan.Snapshot) pageView {
	page := pageView{
		Overall:   clean(snap.Plan.Overall),
		Iteration: snap.Iteration,
	}
	for i, t := range snap.Plan.Tasks {
		tv := taskView{
			Number: i + 1,
			Name:   clean(orDefault(t.Description, "Unnamed Task")),
			Banner: template.CSS(BannerColor(t.Status)),
			Dot:    template.CSS(DotColor(t.DisplayStatus())),
			Memory: clean("N/A"),
		}
		for _, st := range t.Subtasks {
			tv.Subtasks = append(tv.Subtasks, subtaskView{
				Agent:       clean(orDefault(st.AgentName, "No Agent")),
				Function:    clean(orDefault(st.AgentFunction, "No Function")),
				Description: clean(orDefault(st.Description, "Unnamed Subtask")),
				Output:      clean(orDefault(st.Output, "N/A")),
				Observation: clean(orDefault(st.Observation, "N/A")),
				Dot:         template.CSS(DotColor(st.Status)),
				Running:     st.Status == plan.StatusInProgress,
			})
		}
		if n := len(t.Subtasks); n > 0 {
			tv.Memory = clean(orDefault(t.Subtasks[n-1].Observation, "N/A"))
		}
		page.Tasks = append(page.Tasks, tv)
	}
	return page
}

// RenderHTML renders the snapshot as a self-contained sidebar fragment.
func RenderHTML(snap plan.Snapshot) (string, error) {
	var buf bytes.Buffer
	if err := sidebarTmpl.Execute(&buf, buildPage(snap)); err != nil {
		return "", fmt.Errorf("render sidebar: %w", err)
	}
	return buf.String(), nil
}

// HTMLFile is an observer that rewrites Path with the sidebar after every
// snapshot.
type HTMLFile struct {
	Path string
}

// Write renders snap to the file, replacing it atomically.
func (h HTMLFile) Write(snap plan.Snapshot) error {
	out, err := RenderHTML(snap)
	if err != nil {
		return err
	}
	dir := filepath.Dir(h.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create sidebar dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".sidebar-*.html")
	if err != nil {
		return fmt.Errorf("create sidebar file: %w", err)
	}
	if _, err := tmp.WriteString(out); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write sidebar: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write sidebar: %w", err)
	}
	if err := os.Rename(tmp.Name(), h.Path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace sidebar: %w", err)
	}
	return nil
}

func (h HTMLFile) OnSnapshot(snap plan.Snapshot) {
	if err := h.Write(snap); err != nil {
		observability.Warn().
			Add(observability.Str("path", h.Path)).
			Add(observability.ErrorField(err)).
			Msg("sidebar write failed")
	}
}

func (h HTMLFile) OnNarration(conductor.Narration) {}

var _ conductor.Observer = HTMLFile{}
