package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/tidwall/gjson"
	"golang.org/x/oauth2"

	"mcphub/internal/hub"
)

// Teamwork is the Teamwork project management integration. The API base
// URL is installation-specific and stored in connection metadata at
// authorization time.
type Teamwork struct{}

func NewTeamwork() *Teamwork { return &Teamwork{} }

func (t *Teamwork) Name() string           { return "teamwork" }
func (t *Teamwork) DisplayName() string    { return "Teamwork" }
func (t *Teamwork) Description() string    { return "Project management and team collaboration platform" }
func (t *Teamwork) AuthType() hub.AuthType { return hub.AuthTypeOAuth2 }

func (t *Teamwork) Endpoint() oauth2.Endpoint {
	return oauth2.Endpoint{
		AuthURL:  "https://www.teamwork.com/launchpad/login",
		TokenURL: "https://www.teamwork.com/launchpad/v1/token.json",
	}
}

func (t *Teamwork) DefaultScopes() []string { return nil }

func (t *Teamwork) ConnectionGrant(ctx context.Context, tok *oauth2.Token) (Grant, error) {
	meta := map[string]any{}
	if installation, ok := tok.Extra("installation").(map[string]any); ok {
		meta["site_url"] = installation["apiEndPoint"]
		meta["company_name"] = installation["name"]
		meta["company_id"] = installation["id"]
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return Grant{}, hub.NewInternalError(fmt.Errorf("encode teamwork metadata: %w", err))
	}
	return Grant{
		Secret:        tok.AccessToken,
		RefreshSecret: tok.RefreshToken,
		ExpiresAt:     tok.Expiry,
		MetaJSON:      string(metaJSON),
	}, nil
}

func (t *Teamwork) Tools() []mcp.Tool {
	return []mcp.Tool{
		newTool("teamwork.projects.list", "List all projects in Teamwork",
			intArg("page", "Page number", 1),
			intArg("page_size", "Items per page", 50),
		),
		newTool("teamwork.people.list", "List all people in Teamwork",
			intArg("page", "Page number", 1),
			intArg("page_size", "Items per page", 50),
		),
		newTool("teamwork.tasks.list", "List tasks in Teamwork with optional filters",
			intArg("project_id", "Filter by project ID", nil),
			intArg("assignee_id", "Filter by assignee ID", nil),
			enumArg("status", "Filter by status", "all", "active", "completed", "late"),
			stringArg("due_after", "Due date after (YYYYMMDD)"),
			stringArg("due_before", "Due date before (YYYYMMDD)"),
			intArg("page", "Page number", 1),
			intArg("page_size", "Items per page", 50),
		),
		newTool("teamwork.tasks.create", "Create a new task in Teamwork",
			requiredInt("tasklist_id", "Task list ID"),
			requiredString("content", "Task title"),
			stringArg("description", "Task description"),
			intArg("assignee_id", "Assignee user ID", nil),
			stringArg("due_date", "Due date (YYYYMMDD)"),
		),
		newTool("teamwork.tasks.complete", "Mark a Teamwork task as complete",
			requiredInt("task_id", "Task ID"),
		),
	}
}

func (t *Teamwork) Execute(ctx context.Context, tool string, args map[string]any, cred Credential) (string, error) {
	siteURL := strings.TrimRight(gjson.Get(cred.Meta, "site_url").String(), "/")
	if siteURL == "" {
		return "", hub.NewProviderError(t.Name(), 0, fmt.Errorf("connection metadata missing site_url"))
	}
	client := &apiClient{
		provider: t.Name(),
		baseURL:  siteURL,
		headers: map[string]string{
			"Authorization": "Bearer " + cred.Secret.Value(),
		},
	}

	switch tool {
	case "teamwork.projects.list":
		result, err := client.get(ctx, "/projects.json", pageQuery(args))
		return result.Raw, err

	case "teamwork.people.list":
		result, err := client.get(ctx, "/people.json", pageQuery(args))
		return result.Raw, err

	case "teamwork.tasks.list":
		q := pageQuery(args)
		if id := intVal(args, "project_id", 0); id > 0 {
			q.Set("projectIds", strconv.Itoa(id))
		}
		if id := intVal(args, "assignee_id", 0); id > 0 {
			q.Set("responsiblePartyIds", strconv.Itoa(id))
		}
		if status := strVal(args, "status", ""); status != "" {
			q.Set("filter", status)
		}
		if v := strVal(args, "due_after", ""); v != "" {
			q.Set("dueAfter", v)
		}
		if v := strVal(args, "due_before", ""); v != "" {
			q.Set("dueBefore", v)
		}
		result, err := client.get(ctx, "/tasks.json", q)
		return result.Raw, err

	case "teamwork.tasks.create":
		task := map[string]any{"content": args["content"]}
		if desc := strVal(args, "description", ""); desc != "" {
			task["description"] = desc
		}
		if id := intVal(args, "assignee_id", 0); id > 0 {
			task["responsible-party-id"] = strconv.Itoa(id)
		}
		if due := strVal(args, "due_date", ""); due != "" {
			task["due-date"] = due
		}
		path := fmt.Sprintf("/tasklists/%d/tasks.json", intVal(args, "tasklist_id", 0))
		result, err := client.postJSON(ctx, path, map[string]any{"todo-item": task})
		return result.Raw, err

	case "teamwork.tasks.complete":
		path := fmt.Sprintf("/tasks/%d/complete.json", intVal(args, "task_id", 0))
		result, err := client.putJSON(ctx, path, map[string]any{})
		return result.Raw, err
	}
	return "", unknownTool(t.Name(), tool)
}

func pageQuery(args map[string]any) url.Values {
	return url.Values{
		"page":     {strconv.Itoa(intVal(args, "page", 1))},
		"pageSize": {strconv.Itoa(intVal(args, "page_size", 50))},
	}
}

var _ OAuthProvider = (*Teamwork)(nil)
