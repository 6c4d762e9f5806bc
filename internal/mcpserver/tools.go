package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/agentswarm/agentswarm/internal/common/logger"
)

func registerTools(s *server.MCPServer, cfg Config, log *logger.Logger) {
	s.AddTool(
		mcp.NewTool("list_tasks",
			mcp.WithDescription("List tasks in the swarm, optionally filtered by status or assigned agent."),
			mcp.WithString("status",
				mcp.Description("Filter by status: backlog, unassigned, offered, reviewing, pending, in_progress, paused, completed, failed, cancelled (optional)"),
			),
			mcp.WithString("agent_id",
				mcp.Description("Filter by assigned agent ID (optional)"),
			),
		),
		listTasksHandler(cfg, log),
	)

	s.AddTool(
		mcp.NewTool("get_task",
			mcp.WithDescription("Get a single task with its full detail."),
			mcp.WithString("task_id",
				mcp.Required(),
				mcp.Description("The task ID"),
			),
		),
		getTaskHandler(cfg, log),
	)

	s.AddTool(
		mcp.NewTool("create_task",
			mcp.WithDescription("Create a new task. Assign directly with agent_id, offer it with offered_to, or leave both empty to place it in the shared pool."),
			mcp.WithString("task",
				mcp.Required(),
				mcp.Description("The task text"),
			),
			mcp.WithString("agent_id",
				mcp.Description("Agent to assign the task to (optional)"),
			),
			mcp.WithString("offered_to",
				mcp.Description("Agent to offer the task to for accept/reject (optional)"),
			),
			mcp.WithBoolean("backlog",
				mcp.Description("Park the task in the backlog instead of dispatching it (optional)"),
			),
			mcp.WithNumber("priority",
				mcp.Description("Priority, higher runs first (optional)"),
			),
			mcp.WithString("epic_id",
				mcp.Description("Epic to attach the task to (optional)"),
			),
		),
		createTaskHandler(cfg, log),
	)

	s.AddTool(
		mcp.NewTool("list_agents",
			mcp.WithDescription("List all registered agents with their status and current load."),
		),
		listAgentsHandler(cfg, log),
	)

	s.AddTool(
		mcp.NewTool("post_channel_message",
			mcp.WithDescription("Post a message to a swarm channel. Mention agents with @name to notify them."),
			mcp.WithString("channel_id",
				mcp.Required(),
				mcp.Description("The channel ID to post to"),
			),
			mcp.WithString("content",
				mcp.Required(),
				mcp.Description("The message content"),
			),
			mcp.WithString("author_id",
				mcp.Description("Agent ID to attribute the message to (optional)"),
			),
		),
		postChannelMessageHandler(cfg, log),
	)

	log.Info("registered MCP tools", zap.Int("count", 5))
}

// apiGet fetches a swarm API path and returns the raw JSON body.
func apiGet(ctx context.Context, cfg Config, path string) (json.RawMessage, int, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.SwarmURL+path, nil)
	if err != nil {
		return nil, 0, err
	}
	if cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+cfg.APIKey)
	}

	resp, err := http.DefaultClient.Do(httpReq)
	if err != nil {
		return nil, 0, err
	}
	defer func() { _ = resp.Body.Close() }()

	var result json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, resp.StatusCode, fmt.Errorf("failed to parse response: %w", err)
	}
	return result, resp.StatusCode, nil
}

// apiPost sends a JSON payload to a swarm API path and returns the raw body.
func apiPost(ctx context.Context, cfg Config, path string, payload interface{}) (json.RawMessage, int, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, 0, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.SwarmURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, 0, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+cfg.APIKey)
	}

	resp, err := http.DefaultClient.Do(httpReq)
	if err != nil {
		return nil, 0, err
	}
	defer func() { _ = resp.Body.Close() }()

	var result json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, resp.StatusCode, fmt.Errorf("failed to parse response: %w", err)
	}
	return result, resp.StatusCode, nil
}

func listTasksHandler(cfg Config, log *logger.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query := url.Values{}
		if status := req.GetString("status", ""); status != "" {
			query.Set("status", status)
		}
		if agentID := req.GetString("agent_id", ""); agentID != "" {
			query.Set("agentId", agentID)
		}
		path := "/api/tasks"
		if len(query) > 0 {
			path += "?" + query.Encode()
		}

		result, status, err := apiGet(ctx, cfg, path)
		if err != nil {
			log.Error("failed to fetch tasks", zap.Error(err))
			return mcp.NewToolResultError(fmt.Sprintf("Failed to fetch tasks: %v", err)), nil
		}
		if status >= 400 {
			return mcp.NewToolResultError(fmt.Sprintf("API error (%d): %s", status, string(result))), nil
		}

		formatted, _ := json.MarshalIndent(result, "", "  ")
		return mcp.NewToolResultText(string(formatted)), nil
	}
}

func getTaskHandler(cfg Config, log *logger.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		taskID, err := req.RequireString("task_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		result, status, err := apiGet(ctx, cfg, "/api/tasks/"+url.PathEscape(taskID))
		if err != nil {
			log.Error("failed to fetch task", zap.Error(err))
			return mcp.NewToolResultError(fmt.Sprintf("Failed to fetch task: %v", err)), nil
		}
		if status >= 400 {
			return mcp.NewToolResultError(fmt.Sprintf("API error (%d): %s", status, string(result))), nil
		}

		formatted, _ := json.MarshalIndent(result, "", "  ")
		return mcp.NewToolResultText(string(formatted)), nil
	}
}

func createTaskHandler(cfg Config, log *logger.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		task, err := req.RequireString("task")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		payload := map[string]interface{}{
			"task":   task,
			"source": "mcp",
		}
		if agentID := req.GetString("agent_id", ""); agentID != "" {
			payload["agentId"] = agentID
		}
		if offeredTo := req.GetString("offered_to", ""); offeredTo != "" {
			payload["offeredTo"] = offeredTo
		}
		if req.GetBool("backlog", false) {
			payload["backlog"] = true
		}
		if priority := req.GetInt("priority", 0); priority != 0 {
			payload["priority"] = priority
		}
		if epicID := req.GetString("epic_id", ""); epicID != "" {
			payload["epicId"] = epicID
		}

		result, status, err := apiPost(ctx, cfg, "/api/tasks", payload)
		if err != nil {
			log.Error("failed to create task", zap.Error(err))
			return mcp.NewToolResultError(fmt.Sprintf("Failed to create task: %v", err)), nil
		}
		if status >= 400 {
			return mcp.NewToolResultError(fmt.Sprintf("API error (%d): %s", status, string(result))), nil
		}

		formatted, _ := json.MarshalIndent(result, "", "  ")
		return mcp.NewToolResultText(string(formatted)), nil
	}
}

func listAgentsHandler(cfg Config, log *logger.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		result, status, err := apiGet(ctx, cfg, "/api/agents")
		if err != nil {
			log.Error("failed to fetch agents", zap.Error(err))
			return mcp.NewToolResultError(fmt.Sprintf("Failed to fetch agents: %v", err)), nil
		}
		if status >= 400 {
			return mcp.NewToolResultError(fmt.Sprintf("API error (%d): %s", status, string(result))), nil
		}

		formatted, _ := json.MarshalIndent(result, "", "  ")
		return mcp.NewToolResultText(string(formatted)), nil
	}
}

func postChannelMessageHandler(cfg Config, log *logger.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		channelID, err := req.RequireString("channel_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		content, err := req.RequireString("content")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		payload := map[string]interface{}{
			"content": content,
		}
		if authorID := req.GetString("author_id", ""); authorID != "" {
			payload["authorId"] = authorID
		}

		path := "/api/channels/" + url.PathEscape(channelID) + "/messages"
		result, status, err := apiPost(ctx, cfg, path, payload)
		if err != nil {
			log.Error("failed to post channel message", zap.Error(err))
			return mcp.NewToolResultError(fmt.Sprintf("Failed to post message: %v", err)), nil
		}
		if status >= 400 {
			return mcp.NewToolResultError(fmt.Sprintf("API error (%d): %s", status, string(result))), nil
		}

		formatted, _ := json.MarshalIndent(result, "", "  ")
		return mcp.NewToolResultText(string(formatted)), nil
	}
}
