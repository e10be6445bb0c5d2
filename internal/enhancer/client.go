package enhancer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/reviv/pkg/restoration"
	"github.com/google/go-querystring/query"
	"go.uber.org/zap"
)

const (
	createTaskPath          = "/jobs/createTask"
	recordInfoPath          = "/jobs/recordInfo"
	providerSuccessCode     = 200
	defaultRequestTimeout   = 60 * time.Second
	maxResponseBodyBytes    = 4 << 20
	defaultModel            = "nano-banana-pro"
	defaultAspectRatio      = "auto"
	defaultResolution       = "2K"
	defaultOutputFormat     = "png"
	operationCreateTask     = "createTask"
	operationRecordInfo     = "recordInfo"
	unknownProviderErrorMsg = "Unknown error"
)

// HTTPDoer is the subset of *http.Client the provider client needs.
type HTTPDoer interface {
	Do(request *http.Request) (*http.Response, error)
}

// Config describes the provider account and task defaults.
type Config struct {
	BaseURL      string
	APIKey       string
	Model        string
	AspectRatio  string
	Resolution   string
	OutputFormat string
	CallbackURL  string
	Timeout      time.Duration
}

// Client talks to the enhancement provider's task API.
type Client struct {
	config Config
	doer   HTTPDoer
	logger *zap.Logger
}

// TaskRequest is one enhancement submission.
type TaskRequest struct {
	Prompt   string
	ImageURL string
}

type createTaskInput struct {
	Prompt       string   `json:"prompt"`
	ImageInput   []string `json:"image_input"`
	AspectRatio  string   `json:"aspect_ratio"`
	Resolution   string   `json:"resolution"`
	OutputFormat string   `json:"output_format"`
}

type createTaskBody struct {
	Model       string          `json:"model"`
	CallBackURL string          `json:"callBackUrl,omitempty"`
	Input       createTaskInput `json:"input"`
}

type recordInfoQuery struct {
	TaskID string `url:"taskId"`
}

type envelope struct {
	Code    *int            `json:"code"`
	Msg     string          `json:"msg"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// NewClient validates the configuration and applies defaults.
func NewClient(config Config, doer HTTPDoer, logger *zap.Logger) (*Client, error) {
	config.BaseURL = strings.TrimRight(strings.TrimSpace(config.BaseURL), "/")
	config.APIKey = strings.TrimSpace(config.APIKey)
	if config.BaseURL == "" {
		return nil, fmt.Errorf("%w: enhancer base url is required", restoration.ErrConfiguration)
	}
	if config.APIKey == "" {
		return nil, fmt.Errorf("%w: enhancer api key is required", restoration.ErrConfiguration)
	}
	config.Model = defaultIfEmpty(config.Model, defaultModel)
	config.AspectRatio = defaultIfEmpty(config.AspectRatio, defaultAspectRatio)
	config.Resolution = defaultIfEmpty(config.Resolution, defaultResolution)
	config.OutputFormat = defaultIfEmpty(config.OutputFormat, defaultOutputFormat)
	config.CallbackURL = strings.TrimSpace(config.CallbackURL)
	if config.Timeout <= 0 {
		config.Timeout = defaultRequestTimeout
	}
	if doer == nil {
		doer = &http.Client{Timeout: config.Timeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{config: config, doer: doer, logger: logger}, nil
}

// UsesCallback reports whether the provider will push completion notifications.
func (client *Client) UsesCallback() bool {
	return client.config.CallbackURL != ""
}

// CreateTask submits an enhancement task and returns the provider task id.
func (client *Client) CreateTask(ctx context.Context, request TaskRequest) (restoration.TaskID, error) {
	body := createTaskBody{
		Model:       client.config.Model,
		CallBackURL: client.config.CallbackURL,
		Input: createTaskInput{
			Prompt:       request.Prompt,
			ImageInput:   []string{request.ImageURL},
			AspectRatio:  client.config.AspectRatio,
			Resolution:   client.config.Resolution,
			OutputFormat: client.config.OutputFormat,
		},
	}
	encoded, err := json.Marshal(body)
	if err != nil {
		return restoration.TaskID{}, fmt.Errorf("encode create task: %w", err)
	}
	payload, err := client.do(ctx, operationCreateTask, http.MethodPost, client.config.BaseURL+createTaskPath, encoded)
	if err != nil {
		return restoration.TaskID{}, err
	}
	taskID, err := restoration.NewTaskID(ExtractTaskID(payload))
	if err != nil {
		return restoration.TaskID{}, &RemoteError{Operation: operationCreateTask, Code: providerSuccessCode, Message: "response missing task id"}
	}
	client.logger.Info("enhancer task created", zap.String("task_id", taskID.String()))
	return taskID, nil
}

// RecordInfo queries the live task status.
func (client *Client) RecordInfo(ctx context.Context, taskID restoration.TaskID) (Detail, error) {
	values, err := query.Values(recordInfoQuery{TaskID: taskID.String()})
	if err != nil {
		return Detail{}, fmt.Errorf("encode record info query: %w", err)
	}
	endpoint := client.config.BaseURL + recordInfoPath + "?" + values.Encode()
	payload, err := client.do(ctx, operationRecordInfo, http.MethodGet, endpoint, nil)
	if err != nil {
		return Detail{}, err
	}
	return NormalizeDetail(taskID.String(), payload), nil
}

func (client *Client) do(ctx context.Context, operation string, method string, endpoint string, body []byte) (map[string]any, error) {
	requestCtx, cancel := context.WithTimeout(ctx, client.config.Timeout)
	defer cancel()
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	request, err := http.NewRequestWithContext(requestCtx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("%w: build %s request: %v", restoration.ErrConfiguration, operation, err)
	}
	request.Header.Set("Authorization", "Bearer "+client.config.APIKey)
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Accept", "application/json")

	response, err := client.doer.Do(request)
	if err != nil {
		return nil, fmt.Errorf("%w: %s request failed: %v", restoration.ErrRemote, operation, err)
	}
	defer response.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(response.Body, maxResponseBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read %s response: %v", restoration.ErrRemote, operation, err)
	}
	if response.StatusCode != http.StatusOK {
		return nil, &RemoteError{Operation: operation, Code: response.StatusCode, Message: strings.TrimSpace(string(raw))}
	}
	var decoded envelope
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("%w: decode %s response: %v", restoration.ErrRemote, operation, err)
	}
	if decoded.Code != nil && *decoded.Code != providerSuccessCode {
		message := defaultIfEmpty(decoded.Msg, defaultIfEmpty(decoded.Message, unknownProviderErrorMsg))
		return nil, &RemoteError{Operation: operation, Code: *decoded.Code, Message: message}
	}
	payload, err := DecodePayload(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", restoration.ErrRemote, err)
	}
	return payload, nil
}

func defaultIfEmpty(value string, fallback string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fallback
	}
	return trimmed
}
