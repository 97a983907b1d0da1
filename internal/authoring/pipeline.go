// Package authoring turns a natural-language request into a new analysis
// unit: it prompts a text-generation backend, cleans and splits the reply,
// validates the source, derives a file name and writes the unit where the
// loader will find it.
package authoring

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"auditkit/internal/descriptor"
	"auditkit/internal/llm"
	"auditkit/internal/loader"
	"auditkit/internal/logging"
)

// Stage names the pipeline step a Response refers to.
type Stage string

const (
	StageGeneration  Stage = "generation"
	StageValidation  Stage = "validation"
	StagePersistence Stage = "persistence"
	StageDone        Stage = "done"
)

// Request asks for one new unit. Empty Provider, APIKey and Model fall back
// to the pipeline's configured backend.
type Request struct {
	Description string `json:"description"`
	Provider    string `json:"provider,omitempty"`
	APIKey      string `json:"apiKey,omitempty"`
	Model       string `json:"model,omitempty"`
	Filename    string `json:"filename,omitempty"`
}

// Response reports the outcome. Failures are reported here, never as a Go
// error.
type Response struct {
	Success       bool    `json:"success"`
	Message       string  `json:"message"`
	Stage         Stage   `json:"stage"`
	Unit          string  `json:"unit,omitempty"`
	Filename      string  `json:"filename,omitempty"`
	Code          string  `json:"code,omitempty"`
	Documentation *string `json:"documentation,omitempty"`
}

// ClientFactory builds a backend from its configuration.
type ClientFactory func(llm.Config) (llm.Client, error)

// Options configures a Pipeline.
type Options struct {
	// UnitsDir is the loader's units directory. Units are written to its
	// generated sub-directory.
	UnitsDir string
	// LLM is the default backend configuration.
	LLM           llm.Config
	MaxNameLength int
	NewClient     ClientFactory
	Now           func() time.Time
}

// Pipeline authors units.
type Pipeline struct {
	dir       string
	llm       llm.Config
	maxName   int
	newClient ClientFactory
	now       func() time.Time
}

// New creates a pipeline.
func New(opts Options) *Pipeline {
	p := &Pipeline{
		dir:       filepath.Join(opts.UnitsDir, loader.GeneratedDir),
		llm:       opts.LLM,
		maxName:   opts.MaxNameLength,
		newClient: opts.NewClient,
		now:       opts.Now,
	}
	if p.maxName <= 0 {
		p.maxName = DefaultMaxNameLength
	}
	if p.newClient == nil {
		p.newClient = llm.NewClientFromConfig
	}
	if p.now == nil {
		p.now = time.Now
	}
	return p
}

func failure(stage Stage, format string, args ...any) Response {
	return Response{Stage: stage, Message: fmt.Sprintf(format, args...)}
}

// Generate runs the whole pipeline for req.
func (p *Pipeline) Generate(ctx context.Context, req Request) Response {
	timer := logging.StartTimer(logging.CategoryAuthoring, "generate")
	defer timer.Stop()

	cfg := p.llm
	if req.Provider != "" {
		cfg.Provider = llm.Provider(req.Provider)
	}
	if req.APIKey != "" {
		cfg.APIKey = req.APIKey
	}
	if req.Model != "" {
		cfg.Model = req.Model
	}
	audit := logging.Audit()
	audit.Generation(logging.AuditGenerationRequest, string(cfg.Provider), cfg.Model, req.Filename, nil)

	resp := p.generate(ctx, cfg, req)
	if resp.Success {
		audit.Generation(logging.AuditGenerationComplete, string(cfg.Provider), cfg.Model, resp.Unit, nil)
		logging.Authoring("Saved %s", resp.Filename)
	} else {
		audit.Generation(logging.AuditGenerationError, string(cfg.Provider), cfg.Model, req.Filename,
			fmt.Errorf("%s: %s", resp.Stage, resp.Message))
		logging.AuthoringWarn("Generation failed at %s: %s", resp.Stage, resp.Message)
	}
	return resp
}

func (p *Pipeline) generate(ctx context.Context, cfg llm.Config, req Request) Response {
	if strings.TrimSpace(req.Description) == "" {
		return failure(StageGeneration, "description is required")
	}

	client, err := p.newClient(cfg)
	if err != nil {
		return failure(StageGeneration, "cannot create %s client: %v", cfg.Provider, err)
	}
	prompt, err := BuildPrompt(req.Description)
	if err != nil {
		return failure(StageGeneration, "%v", err)
	}

	logging.AuthoringDebug("Requesting unit from %s (prompt_len=%d)", cfg.Provider, len(prompt))
	raw, err := client.CompleteWithSystem(ctx, systemPrompt, prompt)
	if err != nil {
		return failure(StageGeneration, "generation failed: %v", err)
	}
	art := Parse(raw)
	if art.Source == "" {
		return failure(StageGeneration, "the model returned no source code")
	}

	if err := validate(art.Source); err != nil {
		resp := failure(StageValidation, "generated unit is invalid: %v", err)
		resp.Code = art.Source
		resp.Documentation = art.Documentation
		return resp
	}

	now := p.now()
	var name string
	if req.Filename != "" {
		name = SanitizeName(req.Filename, now, p.maxName)
	} else {
		name = DeriveName(art.Source, now, p.maxName)
	}
	path, name, err := p.save(name, now, art)
	if err != nil {
		resp := failure(StagePersistence, "cannot save unit: %v", err)
		resp.Code = art.Source
		resp.Documentation = art.Documentation
		return resp
	}

	return Response{
		Success:       true,
		Message:       fmt.Sprintf("unit saved as %s/%s", loader.GeneratedDir, name),
		Stage:         StageDone,
		Unit:          loader.GeneratedDir + "/" + name,
		Filename:      path,
		Code:          art.Source,
		Documentation: art.Documentation,
	}
}

// maxNameAttempts bounds the search for a free unit name.
const maxNameAttempts = 100

// save persists art under name, or under a timestamped variant when that
// unit already exists. A counter is appended when several units collide in
// the same second. It returns the source path and the name used.
func (p *Pipeline) save(name string, now time.Time, art Artifacts) (string, string, error) {
	stem := strings.TrimSuffix(name, nameSuffix)
	stamp := now.Format("20060102_150405")
	for i := 0; i < maxNameAttempts; i++ {
		candidate := name
		switch {
		case i == 1:
			candidate = stem + "_" + stamp + nameSuffix
		case i > 1:
			candidate = fmt.Sprintf("%s_%s_%d%s", stem, stamp, i, nameSuffix)
		}
		if exists(filepath.Join(p.dir, candidate+".go")) {
			continue
		}
		path, err := persist(p.dir, candidate, art)
		if errors.Is(err, os.ErrExist) {
			logging.AuthoringDebug("Unit name %s was taken while saving, retrying", candidate)
			continue
		}
		return path, candidate, err
	}
	return "", "", fmt.Errorf("no free name for %s after %d attempts", name, maxNameAttempts)
}

// validate statically checks src, then interprets it and validates the
// Definition it declares.
func validate(src string) (err error) {
	u, err := loader.Interpret("generated.go", []byte(src))
	if err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("define panicked: %v", r)
		}
	}()
	def := u.Define()
	if err := def.Validate(); err != nil {
		return err
	}
	if len(def.Schema) == 0 {
		return errors.New("unit declares no result columns")
	}
	return checkSelectDefaults(def)
}

// checkSelectDefaults rejects select parameters whose default is not one of
// their options.
func checkSelectDefaults(def descriptor.Definition) error {
	for _, p := range def.Parameters {
		if p.Type == descriptor.ParamTypeSelect && p.DefaultValue != nil && !p.HasOption(p.DefaultValue) {
			return fmt.Errorf("parameter %s: default %v is not an option", p.Key, p.DefaultValue)
		}
	}
	return nil
}
