package oracle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/api/option"

	"github.com/hackgods/clinic-assistant/pkg/logging"
)

// Gemini implements Oracle with Gemini function calling.
type Gemini struct {
	client  *genai.Client
	modelID string
	timeout time.Duration
	tracer  trace.Tracer
	logger  *logging.Logger
}

var _ Oracle = (*Gemini)(nil)

func NewGemini(ctx context.Context, apiKey, modelID string, timeout time.Duration, logger *logging.Logger, opts ...option.ClientOption) (*Gemini, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("oracle: gemini api key is required")
	}
	if strings.TrimSpace(modelID) == "" {
		modelID = "gemini-2.5-flash"
	}
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	if logger == nil {
		logger = logging.Default()
	}

	client, err := genai.NewClient(ctx, append([]option.ClientOption{option.WithAPIKey(apiKey)}, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("oracle: create gemini client: %w", err)
	}
	return &Gemini{
		client:  client,
		modelID: modelID,
		timeout: timeout,
		tracer:  otel.Tracer("clinic-assistant/oracle"),
		logger:  logger,
	}, nil
}

func (g *Gemini) Decide(ctx context.Context, req Request) (Decision, error) {
	ctx, span := g.tracer.Start(ctx, "oracle.gemini.decide", trace.WithAttributes(
		attribute.String("oracle.model", g.modelID),
		attribute.Int("oracle.history_turns", len(req.History)),
	))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	model := g.client.GenerativeModel(g.modelID)
	if strings.TrimSpace(req.System) != "" {
		model.SystemInstruction = genai.NewUserContent(genai.Text(req.System))
	}
	model.Tools = BookingTools()
	model.ToolConfig = &genai.ToolConfig{
		FunctionCallingConfig: &genai.FunctionCallingConfig{Mode: genai.FunctionCallingAuto},
	}

	cs := model.StartChat()
	cs.History = buildHistory(req.History)

	resp, err := cs.SendMessage(ctx, genai.Text(req.Message))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "gemini request failed")
		return Decision{}, &ProviderError{Code: statusCode(err), Err: err}
	}

	decision, err := decisionFrom(resp)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "gemini response unusable")
		return Decision{}, err
	}
	if decision.Call != nil {
		span.SetAttributes(attribute.String("oracle.tool", decision.Call.Name))
	}
	return decision, nil
}

func (g *Gemini) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}

// BookingTools declares the four booking tools.
func BookingTools() []*genai.Tool {
	return []*genai.Tool{{
		FunctionDeclarations: []*genai.FunctionDeclaration{
			{
				Name:        ToolScheduleAppointment,
				Description: "Agenda una cita para el paciente en un horario disponible",
				Parameters: &genai.Schema{
					Type: genai.TypeObject,
					Properties: map[string]*genai.Schema{
						"patient_name":     {Type: genai.TypeString, Description: "Nombre completo del paciente"},
						"appointment_date": {Type: genai.TypeString, Description: "Fecha y hora en formato ISO (YYYY-MM-DDTHH:mm)"},
						"appointment_type": {Type: genai.TypeString, Description: "Servicio o tipo de cita"},
					},
					Required: []string{"patient_name", "appointment_date", "appointment_type"},
				},
			},
			{
				Name:        ToolGetAvailableSlots,
				Description: "Consulta los horarios disponibles en la agenda para ofrecer al usuario",
				Parameters:  &genai.Schema{Type: genai.TypeObject, Properties: map[string]*genai.Schema{}},
			},
			{
				Name:        ToolGetMyAppointments,
				Description: "Consulta las citas actuales del usuario para ver si tiene alguna que reprogramar",
				Parameters:  &genai.Schema{Type: genai.TypeObject, Properties: map[string]*genai.Schema{}},
			},
			{
				Name:        ToolRescheduleAppointment,
				Description: "Cambia la fecha/hora de una cita existente",
				Parameters: &genai.Schema{
					Type: genai.TypeObject,
					Properties: map[string]*genai.Schema{
						"appointment_id": {Type: genai.TypeInteger, Description: "ID de la cita a reprogramar"},
						"new_date":       {Type: genai.TypeString, Description: "Nueva fecha y hora en formato ISO"},
					},
					Required: []string{"appointment_id", "new_date"},
				},
			},
		},
	}}
}

// buildHistory maps turns to Gemini contents. Empty turns are skipped,
// consecutive same-role turns are merged and leading model turns dropped so
// the history starts with the user.
func buildHistory(turns []Turn) []*genai.Content {
	var out []*genai.Content
	var last *genai.Content
	for _, turn := range turns {
		text := strings.TrimSpace(turn.Text)
		if text == "" {
			continue
		}
		role := string(RoleUser)
		if turn.Role == RoleModel {
			role = string(RoleModel)
		}
		if last == nil && role == string(RoleModel) {
			continue
		}
		if last != nil && last.Role == role {
			last.Parts = append(last.Parts, genai.Text(text))
			continue
		}
		last = &genai.Content{Role: role, Parts: []genai.Part{genai.Text(text)}}
		out = append(out, last)
	}
	return out
}

func decisionFrom(resp *genai.GenerateContentResponse) (Decision, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return Decision{}, &ProviderError{Err: errors.New("gemini returned no candidates")}
	}
	candidate := resp.Candidates[0]
	if candidate.Content == nil || len(candidate.Content.Parts) == 0 {
		return Decision{}, &ProviderError{Err: fmt.Errorf("gemini returned empty content (finish reason %v)", candidate.FinishReason)}
	}

	var text strings.Builder
	for _, part := range candidate.Content.Parts {
		switch p := part.(type) {
		case genai.FunctionCall:
			return Decision{Call: &ToolCall{Name: p.Name, Args: p.Args}}, nil
		case *genai.FunctionCall:
			return Decision{Call: &ToolCall{Name: p.Name, Args: p.Args}}, nil
		case genai.Text:
			text.WriteString(string(p))
		}
	}
	reply := strings.TrimSpace(text.String())
	if reply == "" {
		return Decision{}, &ProviderError{Err: errors.New("gemini returned no text")}
	}
	return Decision{Text: reply}, nil
}
