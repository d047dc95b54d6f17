package agent

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/carescout/carescout/session"
	"github.com/carescout/carescout/types"
)

// providerSchema is the fixed JSON schema passed to the session's
// structured-extraction primitive.
const providerSchema = `{
	"type": "object",
	"properties": {
		"providers": {
			"type": "array",
			"items": {
				"type": "object",
				"properties": {
					"name": {"type": "string"},
					"specialty": {"type": "string"},
					"address": {"type": "string"},
					"phone": {"type": "string"}
				},
				"required": ["name", "specialty", "address"]
			}
		}
	},
	"required": ["providers"]
}`

const extractInstruction = "Extract every in-network provider listed on this page " +
	"with their name, specialty, office address, and phone number."

// ResultExtractor pulls the structured provider list from the live session
// at loop termination and validates it against the fixed schema. A schema
// violation is fatal for the session and is not retried here.
type ResultExtractor struct {
	logger *zap.Logger
}

// NewResultExtractor creates an extractor.
func NewResultExtractor(logger *zap.Logger) *ResultExtractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ResultExtractor{
		logger: logger.With(zap.String("component", "result_extractor")),
	}
}

type extractedPayload struct {
	Providers []types.ProviderRecord `json:"providers"`
}

// Extract requests structured extraction from the current page.
func (e *ResultExtractor) Extract(ctx context.Context, sess session.Session) ([]types.ProviderRecord, error) {
	data, err := sess.Extract(ctx, extractInstruction, json.RawMessage(providerSchema))
	if err != nil {
		return nil, types.NewError(types.ErrExtractionFailed, "provider extraction failed").WithCause(err)
	}

	var payload extractedPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, types.NewError(types.ErrExtractionSchema, "extraction result is not valid JSON").WithCause(err)
	}

	for i, p := range payload.Providers {
		if err := p.Validate(); err != nil {
			e.logger.Error("extracted provider failed schema validation",
				zap.Int("index", i),
				zap.Error(err))
			return nil, err
		}
	}

	e.logger.Info("providers extracted", zap.Int("count", len(payload.Providers)))
	return payload.Providers, nil
}
