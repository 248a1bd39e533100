package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// State fetches the node's introspection snapshot from GET /internal/state
// — membership/liveness and the full local store, for tests and the kvctl
// state subcommand. It deliberately decodes into a generic map rather than
// a node.Snapshot to avoid an import of internal/node from a client meant
// to be usable standalone.
func (c *Client) State(ctx context.Context) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/internal/state", c.baseURL), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	var result map[string]any
	return result, json.NewDecoder(resp.Body).Decode(&result)
}
