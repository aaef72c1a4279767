// Package bedrock adapts the AWS Bedrock Converse API
// (github.com/aws/aws-sdk-go-v2/service/bedrockruntime) to the
// provider.Provider contract.
package bedrock

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/lacehq/lace/internal/provider"
)

// Config configures a Provider's AWS client.
type Config struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	DefaultModel    string
}

// Provider implements provider.Provider against AWS Bedrock's Converse and
// ConverseStream APIs.
type Provider struct {
	client       *bedrockruntime.Client
	defaultModel string
	retry        provider.RetryPolicy
}

// New builds a Provider from cfg, loading AWS credentials from the
// explicit fields if set or the default credential chain otherwise.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "anthropic.claude-3-sonnet-20240229-v1:0"
	}

	var awsCfg aws.Config
	var err error
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(cfg.Region),
			awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
				cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken,
			)),
		)
	} else {
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	}
	if err != nil {
		return nil, fmt.Errorf("bedrock: failed to load AWS config: %w", err)
	}

	return &Provider{
		client:       bedrockruntime.NewFromConfig(awsCfg),
		defaultModel: cfg.DefaultModel,
		retry:        provider.NewRetryPolicy("bedrock"),
	}, nil
}

func (p *Provider) Name() string            { return "bedrock" }
func (p *Provider) DefaultModel() string    { return p.defaultModel }
func (p *Provider) SupportsStreaming() bool { return true }

// SetRetryPolicy replaces the retry policy Do is called with, letting
// callers apply a configured RetryConfig instead of the package default.
func (p *Provider) SetRetryPolicy(policy provider.RetryPolicy) { p.retry = policy }

func (p *Provider) CountTokens(req provider.Request) int {
	chars := len(req.SystemPrompt)
	for _, m := range req.Messages {
		chars += len(m.Text)
	}
	return (chars + 3) / 4
}

func (p *Provider) CreateResponse(ctx context.Context, req provider.Request, sink provider.Sink) (provider.Response, error) {
	input, err := p.buildInput(req)
	if err != nil {
		return provider.Response{}, err
	}

	return p.retry.Do(ctx, sink, func(attempt int) (provider.Response, bool, error) {
		out, err := p.client.Converse(ctx, input)
		if err != nil {
			return provider.Response{}, false, p.classify(err)
		}
		resp := responseFromOutput(out)
		emitComplete(sink, resp)
		return resp, false, nil
	})
}

func (p *Provider) CreateStreamingResponse(ctx context.Context, req provider.Request, sink provider.Sink) (provider.Response, error) {
	input, err := p.buildInput(req)
	if err != nil {
		return provider.Response{}, err
	}
	streamInput := &bedrockruntime.ConverseStreamInput{
		ModelId:         input.ModelId,
		Messages:        input.Messages,
		System:          input.System,
		InferenceConfig: input.InferenceConfig,
		ToolConfig:      input.ToolConfig,
	}

	return p.retry.Do(ctx, sink, func(attempt int) (provider.Response, bool, error) {
		out, err := p.client.ConverseStream(ctx, streamInput)
		if err != nil {
			return provider.Response{}, false, p.classify(err)
		}
		return p.consumeStream(ctx, out, sink)
	})
}

func (p *Provider) buildInput(req provider.Request) (*bedrockruntime.ConverseInput, error) {
	messages, err := convertMessages(req.Messages)
	if err != nil {
		return nil, err
	}

	model := p.defaultModel
	input := &bedrockruntime.ConverseInput{
		ModelId:  aws.String(model),
		Messages: messages,
	}
	if req.SystemPrompt != "" {
		input.System = []types.SystemContentBlock{
			&types.SystemContentBlockMemberText{Value: req.SystemPrompt},
		}
	}
	if req.MaxTokens > 0 {
		maxTokens := req.MaxTokens
		if maxTokens > 1<<31-1 {
			maxTokens = 1<<31 - 1
		}
		input.InferenceConfig = &types.InferenceConfiguration{
			MaxTokens: aws.Int32(int32(maxTokens)),
		}
	}
	if len(req.Tools) > 0 {
		toolConfig, err := convertTools(req.Tools)
		if err != nil {
			return nil, err
		}
		input.ToolConfig = toolConfig
	}
	return input, nil
}

func convertMessages(messages []provider.Message) ([]types.Message, error) {
	out := make([]types.Message, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case "user":
			out = append(out, types.Message{
				Role:    types.ConversationRoleUser,
				Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: m.Text}},
			})
		case "assistant":
			var content []types.ContentBlock
			if m.Text != "" {
				content = append(content, &types.ContentBlockMemberText{Value: m.Text})
			}
			for _, tc := range m.ToolCalls {
				content = append(content, &types.ContentBlockMemberToolUse{
					Value: types.ToolUseBlock{
						ToolUseId: aws.String(tc.ID),
						Name:      aws.String(tc.Name),
						Input:     document.NewLazyDocument(decodeArgs(tc.Input)),
					},
				})
			}
			out = append(out, types.Message{Role: types.ConversationRoleAssistant, Content: content})
		case "tool":
			out = append(out, types.Message{
				Role: types.ConversationRoleUser,
				Content: []types.ContentBlock{&types.ContentBlockMemberToolResult{
					Value: types.ToolResultBlock{
						ToolUseId: aws.String(m.ToolCallID),
						Content:   []types.ToolResultContentBlock{&types.ToolResultContentBlockMemberText{Value: m.Text}},
						Status:    toolResultStatus(m.IsError),
					},
				}},
			})
		default:
			return nil, fmt.Errorf("bedrock provider: unsupported role %q", m.Role)
		}
	}
	return out, nil
}

func toolResultStatus(isError bool) types.ToolResultStatus {
	if isError {
		return types.ToolResultStatusError
	}
	return types.ToolResultStatusSuccess
}

func decodeArgs(raw []byte) any {
	if len(raw) == 0 {
		return map[string]any{}
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return map[string]any{}
	}
	return m
}

func convertTools(tools []provider.ToolDef) (*types.ToolConfiguration, error) {
	out := make([]types.Tool, 0, len(tools))
	for _, t := range tools {
		var schema map[string]any
		if err := json.Unmarshal(t.InputSchema, &schema); err != nil {
			return nil, fmt.Errorf("bedrock provider: tool %q schema: %w", t.Name, err)
		}
		out = append(out, &types.ToolMemberToolSpec{
			Value: types.ToolSpecification{
				Name:        aws.String(t.Name),
				Description: aws.String(t.Description),
				InputSchema: &types.ToolInputSchemaMemberJson{Value: document.NewLazyDocument(schema)},
			},
		})
	}
	return &types.ToolConfiguration{Tools: out}, nil
}

func responseFromOutput(out *bedrockruntime.ConverseOutput) provider.Response {
	resp := provider.Response{StopReason: stopReasonFromBedrock(out.StopReason)}
	if out.Usage != nil {
		resp.Usage = provider.Usage{
			PromptTokens:     int(aws.ToInt32(out.Usage.InputTokens)),
			CompletionTokens: int(aws.ToInt32(out.Usage.OutputTokens)),
		}
	}
	msg, ok := out.Output.(*types.ConverseOutputMemberMessage)
	if !ok {
		return resp
	}
	var text strings.Builder
	for _, block := range msg.Value.Content {
		switch v := block.(type) {
		case *types.ContentBlockMemberText:
			text.WriteString(v.Value)
		case *types.ContentBlockMemberToolUse:
			args, _ := json.Marshal(v.Value.Input)
			resp.ToolCalls = append(resp.ToolCalls, provider.ToolCall{
				ID: aws.ToString(v.Value.ToolUseId), Name: aws.ToString(v.Value.Name), Input: args,
			})
		}
	}
	resp.Content = text.String()
	return resp
}

func stopReasonFromBedrock(reason types.StopReason) provider.StopReason {
	switch reason {
	case types.StopReasonToolUse:
		return provider.StopToolUse
	case types.StopReasonMaxTokens:
		return provider.StopMaxTokens
	default:
		return provider.StopEndTurn
	}
}

// consumeStream drains a ConverseStream event stream, emitting EventToken
// for text deltas and accumulating tool_use input per content block, keyed
// by block start/stop rather than index since Bedrock emits one tool use
// per block and closes it before the next starts.
func (p *Provider) consumeStream(ctx context.Context, out *bedrockruntime.ConverseStreamOutput, sink provider.Sink) (provider.Response, bool, error) {
	eventStream := out.GetStream()
	defer eventStream.Close()

	var text strings.Builder
	var usage provider.Usage
	stopReason := provider.StopEndTurn
	var toolCalls []provider.ToolCall
	var currentID, currentName string
	var currentArgs strings.Builder
	streamedToken := false

	events := eventStream.Events()
	for {
		select {
		case <-ctx.Done():
			return provider.Response{}, streamedToken, ctx.Err()
		case event, ok := <-events:
			if !ok {
				if err := eventStream.Err(); err != nil {
					return provider.Response{}, streamedToken, p.classify(err)
				}
				resp := provider.Response{Content: text.String(), Usage: usage, StopReason: stopReason, ToolCalls: toolCalls}
				emitComplete(sink, resp)
				return resp, streamedToken, nil
			}

			switch ev := event.(type) {
			case *types.ConverseStreamOutputMemberContentBlockStart:
				if tu, ok := ev.Value.Start.(*types.ContentBlockStartMemberToolUse); ok {
					currentID = aws.ToString(tu.Value.ToolUseId)
					currentName = aws.ToString(tu.Value.Name)
					currentArgs.Reset()
				}
			case *types.ConverseStreamOutputMemberContentBlockDelta:
				switch delta := ev.Value.Delta.(type) {
				case *types.ContentBlockDeltaMemberText:
					if delta.Value != "" {
						text.WriteString(delta.Value)
						streamedToken = true
						emit(sink, provider.Event{Type: provider.EventToken, Token: delta.Value})
					}
				case *types.ContentBlockDeltaMemberToolUse:
					if delta.Value.Input != nil {
						currentArgs.WriteString(*delta.Value.Input)
					}
				}
			case *types.ConverseStreamOutputMemberContentBlockStop:
				if currentID != "" {
					args := currentArgs.String()
					if strings.TrimSpace(args) == "" {
						args = "{}"
					}
					toolCalls = append(toolCalls, provider.ToolCall{ID: currentID, Name: currentName, Input: []byte(args)})
					currentID, currentName = "", ""
					currentArgs.Reset()
				}
			case *types.ConverseStreamOutputMemberMetadata:
				if ev.Value.Usage != nil {
					usage = provider.Usage{
						PromptTokens:     int(aws.ToInt32(ev.Value.Usage.InputTokens)),
						CompletionTokens: int(aws.ToInt32(ev.Value.Usage.OutputTokens)),
					}
				}
			case *types.ConverseStreamOutputMemberMessageStop:
				stopReason = stopReasonFromBedrock(ev.Value.StopReason)
			}
		}
	}
}

func (p *Provider) classify(err error) *provider.Error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "throttlingexception") || strings.Contains(msg, "toomanyrequestsexception") || strings.Contains(msg, "serviceunavailableexception") {
		return (&provider.Error{Provider: "bedrock", Model: p.defaultModel, Cause: err, Reason: provider.FailoverRateLimit}).WithMessage(err.Error())
	}
	return provider.NewError("bedrock", p.defaultModel, err)
}

func emit(sink provider.Sink, ev provider.Event) {
	if sink != nil {
		sink(ev)
	}
}

func emitComplete(sink provider.Sink, resp provider.Response) {
	emit(sink, provider.Event{Type: provider.EventComplete, Response: &resp})
}
