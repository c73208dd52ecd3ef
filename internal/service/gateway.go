package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/and161185/churnguard/internal/errs"
	"github.com/and161185/churnguard/internal/inference"
	"github.com/and161185/churnguard/internal/model"
)

// DefaultModelType is used by Retrain when the caller names none.
const DefaultModelType = "logistic_regression"

// Stable client-facing messages for backend failures.
const (
	MsgDashboard    = "Failed to fetch dashboard data."
	MsgChurnFactors = "Failed to fetch churn factors."
	MsgSegmentation = "Failed to fetch segmentation data."
	MsgPerformance  = "Failed to fetch performance data."
	MsgPredict      = "Failed to get prediction."
	MsgRetrain      = "Failed to retrain model."
)

// Gateway forwards analytics and prediction calls to the inference backend,
// always scoped to the model bound in the caller's identity.
type Gateway interface {
	Dashboard(ctx context.Context, id model.Identity) (json.RawMessage, error)
	ChurnFactors(ctx context.Context, id model.Identity) (json.RawMessage, error)
	Segmentation(ctx context.Context, id model.Identity) (json.RawMessage, error)
	Performance(ctx context.Context, id model.Identity) (json.RawMessage, error)
	// Predict forwards features; a model_id supplied by the caller is overwritten.
	Predict(ctx context.Context, id model.Identity, features json.RawMessage) (json.RawMessage, error)
	// Retrain asks the backend to retrain the bound model; the binding never changes.
	Retrain(ctx context.Context, id model.Identity, modelType string) (json.RawMessage, error)
}

// Backend posts JSON to the inference service. Implemented by *inference.Client.
type Backend interface {
	Post(ctx context.Context, path string, body any) (json.RawMessage, error)
}

// GatewayError is a backend failure translated to a stable message.
// Detail is the backend's JSON body when it sent one, otherwise the error text.
type GatewayError struct {
	Message string
	Detail  any
	Err     error
}

func (e *GatewayError) Error() string { return fmt.Sprintf("%s: %v", e.Message, e.Err) }
func (e *GatewayError) Unwrap() error { return e.Err }

type GatewayImpl struct {
	backend Backend
	log     *zap.Logger
}

var _ Gateway = (*GatewayImpl)(nil)

// NewGateway constructs a Gateway; log may be nil.
func NewGateway(b Backend, log *zap.Logger) *GatewayImpl {
	if log == nil {
		log = zap.NewNop()
	}
	return &GatewayImpl{backend: b, log: log}
}

type modelRef struct {
	ModelID string `json:"model_id"`
}

func (g *GatewayImpl) Dashboard(ctx context.Context, id model.Identity) (json.RawMessage, error) {
	return g.forward(ctx, id, "/dashboard_stats", MsgDashboard, modelRef{id.ModelID})
}

func (g *GatewayImpl) ChurnFactors(ctx context.Context, id model.Identity) (json.RawMessage, error) {
	return g.forward(ctx, id, "/churn_factors", MsgChurnFactors, modelRef{id.ModelID})
}

func (g *GatewayImpl) Segmentation(ctx context.Context, id model.Identity) (json.RawMessage, error) {
	return g.forward(ctx, id, "/segmentation", MsgSegmentation, modelRef{id.ModelID})
}

func (g *GatewayImpl) Performance(ctx context.Context, id model.Identity) (json.RawMessage, error) {
	return g.forward(ctx, id, "/performance_stats", MsgPerformance, modelRef{id.ModelID})
}

func (g *GatewayImpl) Predict(ctx context.Context, id model.Identity, features json.RawMessage) (json.RawMessage, error) {
	if id.ModelID == "" {
		return nil, errs.ErrNoModelBound
	}
	var body map[string]json.RawMessage
	if err := json.Unmarshal(features, &body); err != nil || body == nil {
		return nil, fmt.Errorf("%w: prediction input must be a JSON object", errs.ErrValidation)
	}
	mid, err := json.Marshal(id.ModelID)
	if err != nil {
		return nil, err
	}
	body["model_id"] = mid
	return g.forward(ctx, id, "/predict", MsgPredict, body)
}

func (g *GatewayImpl) Retrain(ctx context.Context, id model.Identity, modelType string) (json.RawMessage, error) {
	if modelType == "" {
		modelType = DefaultModelType
	}
	body := struct {
		ModelID   string `json:"model_id"`
		ModelType string `json:"modelType"`
	}{id.ModelID, modelType}

	raw, err := g.forward(ctx, id, "/retrain", MsgRetrain, body)
	if err != nil {
		return nil, err
	}
	var echoed modelRef
	if json.Unmarshal(raw, &echoed) == nil && echoed.ModelID != "" && echoed.ModelID != id.ModelID {
		g.log.Warn("backend reported a different model after retrain; binding unchanged",
			zap.String("tenant_id", id.TenantID),
			zap.String("model_id", id.ModelID),
			zap.String("reported_model_id", echoed.ModelID))
	}
	return raw, nil
}

func (g *GatewayImpl) forward(ctx context.Context, id model.Identity, path, msg string, body any) (json.RawMessage, error) {
	if id.ModelID == "" {
		return nil, errs.ErrNoModelBound
	}
	raw, err := g.backend.Post(ctx, path, body)
	if err != nil {
		g.log.Warn("backend call failed",
			zap.String("path", path),
			zap.String("tenant_id", id.TenantID),
			zap.String("model_id", id.ModelID),
			zap.Error(err))
		return nil, &GatewayError{Message: msg, Detail: detailOf(err), Err: err}
	}
	return raw, nil
}

func detailOf(err error) any {
	var be *inference.BackendError
	if errors.As(err, &be) && len(be.Body) > 0 && json.Valid(be.Body) {
		return json.RawMessage(be.Body)
	}
	return err.Error()
}
