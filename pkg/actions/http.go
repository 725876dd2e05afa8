package actions

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/cascadehq/cascade/pkg/models"
	"github.com/cascadehq/cascade/pkg/stepexec"
	"github.com/cascadehq/cascade/pkg/template"
)

const httpClientTimeout = 30 * time.Second

// HTTPRequestExecutor performs an arbitrary HTTP call and returns the
// response as the step output. Non-2xx responses fail the step with
// the status code as error code so retry policies can match on it.
type HTTPRequestExecutor struct {
	logger *slog.Logger
	client *resty.Client
}

func NewHTTPRequestExecutor(logger *slog.Logger) *HTTPRequestExecutor {
	return &HTTPRequestExecutor{
		logger: logger.With("action_type", models.ActionHTTPRequest),
		client: resty.New().SetTimeout(httpClientTimeout),
	}
}

func (e *HTTPRequestExecutor) Execute(ctx context.Context, action *models.WorkflowAction, execCtx *models.ExecutionContext) (any, error) {
	config, err := models.DecodeConfig[models.HTTPRequestConfig](action)
	if err != nil {
		return nil, err
	}

	if config.URL, err = template.Render(config.URL, execCtx); err != nil {
		return nil, fmt.Errorf("action %s url: %w", action.ID, err)
	}

	requestBody, err := template.RenderAny(config.Body, execCtx)
	if err != nil {
		return nil, fmt.Errorf("action %s body: %w", action.ID, err)
	}

	method := strings.ToUpper(config.Method)
	if method == "" {
		method = "GET"
	}

	response := map[string]any{}

	resp, err := e.client.R().
		SetContext(ctx).
		SetHeaders(config.Headers).
		SetBody(requestBody).
		SetResult(&response).
		SetError(&response).
		Execute(method, config.URL)
	if err != nil {
		return nil, fmt.Errorf("http request to %s failed: %w", config.URL, err)
	}

	e.logger.DebugContext(ctx, "http request finished",
		"url", config.URL,
		"method", method,
		"status_code", resp.StatusCode(),
	)

	if resp.IsError() {
		return nil, stepexec.NewCodedError(
			fmt.Sprintf("%d", resp.StatusCode()),
			fmt.Sprintf("http request to %s returned %s", config.URL, resp.Status()),
		)
	}

	return map[string]any{
		"status_code": resp.StatusCode(),
		"status":      resp.Status(),
		"body":        response,
	}, nil
}

func (e *HTTPRequestExecutor) Validate(action *models.WorkflowAction) error {
	config, err := models.DecodeConfig[models.HTTPRequestConfig](action)
	if err != nil {
		return err
	}

	return validateURL(action.ID, config.URL)
}

// WebhookExecutor posts the execution context to a webhook URL
// alongside any static payload fields.
type WebhookExecutor struct {
	logger *slog.Logger
	client *resty.Client
}

func NewWebhookExecutor(logger *slog.Logger) *WebhookExecutor {
	return &WebhookExecutor{
		logger: logger.With("action_type", models.ActionWebhook),
		client: resty.New().SetTimeout(httpClientTimeout),
	}
}

func (e *WebhookExecutor) Execute(ctx context.Context, action *models.WorkflowAction, execCtx *models.ExecutionContext) (any, error) {
	config, err := models.DecodeConfig[models.WebhookConfig](action)
	if err != nil {
		return nil, err
	}

	body := map[string]any{
		"contact":      execCtx.Contact,
		"trigger_data": execCtx.TriggerData,
		"variables":    execCtx.Variables,
	}

	payload, err := template.RenderAny(config.Payload, execCtx)
	if err != nil {
		return nil, fmt.Errorf("action %s payload: %w", action.ID, err)
	}

	if fields, ok := payload.(map[string]any); ok {
		for key, value := range fields {
			body[key] = value
		}
	}

	resp, err := e.client.R().
		SetContext(ctx).
		SetHeaders(config.Headers).
		SetBody(body).
		Post(config.URL)
	if err != nil {
		return nil, fmt.Errorf("webhook to %s failed: %w", config.URL, err)
	}

	if resp.IsError() {
		return nil, stepexec.NewCodedError(
			fmt.Sprintf("%d", resp.StatusCode()),
			fmt.Sprintf("webhook to %s returned %s", config.URL, resp.Status()),
		)
	}

	return map[string]any{
		"status_code": resp.StatusCode(),
	}, nil
}

func (e *WebhookExecutor) Validate(action *models.WorkflowAction) error {
	config, err := models.DecodeConfig[models.WebhookConfig](action)
	if err != nil {
		return err
	}

	return validateURL(action.ID, config.URL)
}

func validateURL(actionID, raw string) error {
	if raw == "" {
		return fmt.Errorf("action %s: url is required", actionID)
	}

	parsed, err := url.Parse(raw)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("action %s: invalid url %q", actionID, raw)
	}

	return nil
}
