package provider

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"google.golang.org/genai"

	"github.com/maauso/veo-studio-api/internal/generation"
)

// DefaultVeoModel is the model used when none is configured.
const DefaultVeoModel = "veo-3.1-generate-preview"

// Static errors for the Veo provider.
var (
	// ErrVeoCredentialsRequired is returned when neither an API key nor a Vertex AI project is set.
	ErrVeoCredentialsRequired = errors.New("veo: API key or Vertex AI project is required")
	// ErrNoOperationReturned is returned when the service answers without an operation.
	ErrNoOperationReturned = errors.New("veo: no operation returned")
)

// VeoConfig selects the backend for the Veo provider.
// Vertex AI is used when Project is set, the Gemini API otherwise.
type VeoConfig struct {
	APIKey   string
	Project  string
	Location string
	Model    string
	// OutputGCSURI is an optional Cloud Storage prefix for rendered videos (Vertex AI).
	OutputGCSURI string
}

// videosAPI is the subset of the genai client used by VeoProvider.
type videosAPI interface {
	GenerateVideos(ctx context.Context, model, prompt string, image *genai.Image, config *genai.GenerateVideosConfig) (*genai.GenerateVideosOperation, error)
	GetVideosOperation(ctx context.Context, op *genai.GenerateVideosOperation, config *genai.GetOperationConfig) (*genai.GenerateVideosOperation, error)
}

type genaiVideos struct {
	client *genai.Client
}

func (g genaiVideos) GenerateVideos(ctx context.Context, model, prompt string, image *genai.Image, config *genai.GenerateVideosConfig) (*genai.GenerateVideosOperation, error) {
	return g.client.Models.GenerateVideos(ctx, model, prompt, image, config)
}

func (g genaiVideos) GetVideosOperation(ctx context.Context, op *genai.GenerateVideosOperation, config *genai.GetOperationConfig) (*genai.GenerateVideosOperation, error) {
	return g.client.Operations.GetVideosOperation(ctx, op, config)
}

// VeoProvider runs generations as Veo long-running operations through google.golang.org/genai.
type VeoProvider struct {
	api          videosAPI
	model        string
	outputGCSURI string
}

// NewVeoProvider creates a Veo provider backed by a genai client.
func NewVeoProvider(ctx context.Context, cfg VeoConfig) (*VeoProvider, error) {
	var cc *genai.ClientConfig
	switch {
	case cfg.Project != "":
		cc = &genai.ClientConfig{
			Project:  cfg.Project,
			Location: cfg.Location,
			Backend:  genai.BackendVertexAI,
		}
	case cfg.APIKey != "":
		cc = &genai.ClientConfig{
			APIKey:  cfg.APIKey,
			Backend: genai.BackendGeminiAPI,
		}
	default:
		return nil, ErrVeoCredentialsRequired
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("veo: create genai client: %w", err)
	}

	return newVeoProvider(genaiVideos{client: client}, cfg), nil
}

func newVeoProvider(api videosAPI, cfg VeoConfig) *VeoProvider {
	model := cfg.Model
	if model == "" {
		model = DefaultVeoModel
	}
	return &VeoProvider{
		api:          api,
		model:        model,
		outputGCSURI: cfg.OutputGCSURI,
	}
}

// Name returns "veo".
func (p *VeoProvider) Name() string {
	return "veo"
}

// Submit starts a Veo video generation operation.
func (p *VeoProvider) Submit(ctx context.Context, req generation.GenerationRequest) (generation.Operation, error) {
	var image *genai.Image
	if req.HasReferenceImage() {
		data, err := base64.StdEncoding.DecodeString(req.ReferenceImageBase64)
		if err != nil {
			return generation.Operation{}, submitError(fmt.Errorf("decode reference image: %w", err))
		}
		mimeType := req.ReferenceImageMIMEType
		if mimeType == "" {
			mimeType = mimetype.Detect(data).String()
		}
		image = &genai.Image{ImageBytes: data, MIMEType: mimeType}
	}

	config := &genai.GenerateVideosConfig{
		NumberOfVideos:  1,
		AspectRatio:     req.AspectRatio,
		DurationSeconds: genai.Ptr(int32(req.DurationSeconds)),
		FPS:             genai.Ptr(int32(req.FPS)),
		OutputGCSURI:    p.outputGCSURI,
	}

	op, err := p.api.GenerateVideos(ctx, p.model, ComposePrompt(req), image, config)
	if err != nil {
		return generation.Operation{}, submitError(err)
	}
	if op == nil || op.Name == "" {
		return generation.Operation{}, submitError(ErrNoOperationReturned)
	}

	return toOperation(op), nil
}

// Query fetches the current state of a Veo operation.
func (p *VeoProvider) Query(ctx context.Context, operationName string) (generation.Operation, error) {
	if operationName == "" {
		return generation.Operation{}, queryError(generation.ErrOperationNameRequired)
	}

	op, err := p.api.GetVideosOperation(ctx, &genai.GenerateVideosOperation{Name: operationName}, nil)
	if err != nil {
		return generation.Operation{}, queryError(err)
	}
	if op == nil {
		return generation.Operation{}, queryError(ErrNoOperationReturned)
	}

	out := toOperation(op)
	if out.OperationName == "" {
		out.OperationName = operationName
	}
	return out, nil
}

// ComposePrompt folds the camera and visual style tags and the storyboard
// into the text prompt, since Veo has no dedicated fields for them.
func ComposePrompt(req generation.GenerationRequest) string {
	var b strings.Builder
	b.WriteString(req.Prompt)

	var cues []string
	if req.CameraStyle != "" {
		cues = append(cues, "Camera style: "+humanizeTag(req.CameraStyle)+".")
	}
	if req.VisualStyle != "" {
		cues = append(cues, "Visual style: "+humanizeTag(req.VisualStyle)+".")
	}
	if len(cues) > 0 {
		b.WriteString("\n\n")
		b.WriteString(strings.Join(cues, " "))
	}
	if len(req.Storyboard) > 0 && string(req.Storyboard) != "null" {
		b.WriteString("\n\nStoryboard: ")
		b.Write(req.Storyboard)
	}
	return b.String()
}

func humanizeTag(tag string) string {
	return strings.ReplaceAll(tag, "-", " ")
}

func toOperation(op *genai.GenerateVideosOperation) generation.Operation {
	out := generation.Operation{
		OperationName: op.Name,
		Done:          op.Done,
	}

	if len(op.Error) > 0 {
		out.Error = operationErrorMessage(op.Error)
	}

	if op.Response != nil {
		for _, gv := range op.Response.GeneratedVideos {
			if gv != nil && gv.Video != nil && gv.Video.URI != "" {
				out.VideoURIs = append(out.VideoURIs, gv.Video.URI)
			}
		}
		if op.Done && out.Error == "" && len(out.VideoURIs) == 0 && op.Response.RAIMediaFilteredCount > 0 {
			out.Error = "video filtered by safety policy"
			if len(op.Response.RAIMediaFilteredReasons) > 0 {
				out.Error += ": " + strings.Join(op.Response.RAIMediaFilteredReasons, "; ")
			}
		}
	}

	return out
}

func operationErrorMessage(e map[string]any) string {
	if msg, ok := e["message"].(string); ok && msg != "" {
		return msg
	}
	if code, ok := e["code"]; ok {
		return fmt.Sprintf("operation failed with code %v", code)
	}
	return "operation failed"
}

// Compile-time check that VeoProvider implements Provider.
var _ Provider = (*VeoProvider)(nil)
