package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
)

var apiMethods = map[string]bool{
	http.MethodGet:    true,
	http.MethodPost:   true,
	http.MethodPut:    true,
	http.MethodPatch:  true,
	http.MethodDelete: true,
}

// cmdAPI sends one Open API request with the resolved user token, or the
// tenant token when no user token is available.
func (a *app) cmdAPI(ctx context.Context, args []string) error {
	var g globalFlags
	fs := a.newFlagSet("api", &g)
	data := fs.StringP("data", "d", "", "JSON request body")
	queries := fs.StringArrayP("query", "q", nil, "Query parameter as key=value (repeatable)")

	cfg, err := a.parseFlags(fs, &g, args)
	if err != nil {
		return err
	}
	if fs.NArg() != 2 {
		return usageErrorf("usage: api METHOD PATH [--data JSON] [--query key=value]")
	}
	method := strings.ToUpper(fs.Arg(0))
	if !apiMethods[method] {
		return usageErrorf("unsupported method %q", fs.Arg(0))
	}
	path := fs.Arg(1)
	if strings.Contains(path, "://") {
		return usageErrorf("PATH must be relative to the base URL, got %q", path)
	}

	query := url.Values{}
	for _, q := range *queries {
		k, v, ok := strings.Cut(q, "=")
		if !ok || k == "" {
			return usageErrorf("invalid --query %q, want key=value", q)
		}
		query.Add(k, v)
	}

	var body any
	if *data != "" {
		if !json.Valid([]byte(*data)) {
			return usageErrorf("--data is not valid JSON")
		}
		body = json.RawMessage(*data)
	}

	if err := cfg.requireApp(); err != nil {
		return err
	}
	svc, err := a.services(cfg)
	if err != nil {
		return err
	}

	resp, err := svc.client.Do(ctx, method, path, query, body)
	if err != nil {
		return err
	}
	return writeResponse(a.stdout, resp)
}
