package sandbox

import (
	"fmt"

	"github.com/ChamsBouzaiene/dodo/internal/model"
)

// Endpoints is the set of loopback broker addresses a sandboxed child may
// call back into, assembled by the invocation handler (C12) before the
// child is launched.
type Endpoints struct {
	ToolCallURL   string // "" if no tools are allowlisted.
	ToolCallToken string

	DiscoveryURL   string // usually the tool-call broker with a sibling path; "" disables it.
	DiscoveryToken string

	SamplingURL   string // "" if sampling is not enabled.
	SamplingToken string

	OutputStreamURL string // "" if output streaming is not enabled.
}

// BuildPreamble returns the language-specific source prepended to a
// submitted snippet, defining the callback primitives the snippet calls
// to reach C7 (tool call), C8 (discovery), and C9 (sampling). Tokens and
// ports are interpolated as string constants: the child has no other way
// to reach these loopback endpoints and is launched with no inherited
// environment beyond what ExecutionPlan.Env already carries.
func BuildPreamble(lang model.Language, ep Endpoints) string {
	switch lang {
	case model.LanguagePython:
		return buildPythonPreamble(ep)
	default:
		return buildJSPreamble(ep)
	}
}

func buildJSPreamble(ep Endpoints) string {
	return fmt.Sprintf(`// --- sandbox runtime primitives ---
const __TOOLCALL_URL = %q;
const __TOOLCALL_TOKEN = %q;
const __DISCOVERY_URL = %q;
const __DISCOVERY_TOKEN = %q;
const __SAMPLING_URL = %q;
const __SAMPLING_TOKEN = %q;

async function callTool(toolName, args) {
  if (!__TOOLCALL_URL) throw new Error("tool calling is not enabled for this execution");
  const res = await fetch(__TOOLCALL_URL, {
    method: "POST",
    headers: { "Authorization": "Bearer " + __TOOLCALL_TOKEN, "Content-Type": "application/json" },
    body: JSON.stringify({ toolName, params: args }),
  });
  const body = await res.json();
  if (!res.ok) throw new Error((body && body.message) || ("tool call failed: " + res.status));
  return body;
}

async function discoverTools(query) {
  if (!__DISCOVERY_URL) throw new Error("discovery is not enabled for this execution");
  const url = query ? (__DISCOVERY_URL + "?q=" + encodeURIComponent(query)) : __DISCOVERY_URL;
  const res = await fetch(url, { headers: { "Authorization": "Bearer " + __DISCOVERY_TOKEN } });
  const body = await res.json();
  if (!res.ok) throw new Error((body && body.message) || ("discovery failed: " + res.status));
  return body;
}

async function ask(messages, opts) {
  if (!__SAMPLING_URL) throw new Error("sampling is not enabled for this execution");
  opts = opts || {};
  const res = await fetch(__SAMPLING_URL, {
    method: "POST",
    headers: { "Authorization": "Bearer " + __SAMPLING_TOKEN, "Content-Type": "application/json" },
    body: JSON.stringify({ messages, model: opts.model, systemPrompt: opts.systemPrompt, maxTokens: opts.maxTokens }),
  });
  const body = await res.json();
  if (!res.ok) throw new Error((body && body.message) || ("sampling failed: " + res.status));
  return body;
}

async function think(prompt, opts) {
  return ask([{ role: "user", content: prompt }], opts);
}
// --- end sandbox runtime primitives ---

`, ep.ToolCallURL, ep.ToolCallToken, ep.DiscoveryURL, ep.DiscoveryToken, ep.SamplingURL, ep.SamplingToken)
}

func buildPythonPreamble(ep Endpoints) string {
	return fmt.Sprintf(`# --- sandbox runtime primitives ---
import json
import urllib.parse
import urllib.request

__TOOLCALL_URL = %q
__TOOLCALL_TOKEN = %q
__DISCOVERY_URL = %q
__DISCOVERY_TOKEN = %q
__SAMPLING_URL = %q
__SAMPLING_TOKEN = %q


def _post(url, token, payload):
    req = urllib.request.Request(
        url,
        data=json.dumps(payload).encode("utf-8"),
        headers={"Authorization": "Bearer " + token, "Content-Type": "application/json"},
        method="POST",
    )
    with urllib.request.urlopen(req) as resp:
        return json.loads(resp.read().decode("utf-8"))


def call_tool(tool_name, args):
    if not __TOOLCALL_URL:
        raise RuntimeError("tool calling is not enabled for this execution")
    return _post(__TOOLCALL_URL, __TOOLCALL_TOKEN, {"toolName": tool_name, "params": args})


def discover_tools(query=None):
    if not __DISCOVERY_URL:
        raise RuntimeError("discovery is not enabled for this execution")
    url = __DISCOVERY_URL + ("?q=" + urllib.parse.quote(query) if query else "")
    req = urllib.request.Request(url, headers={"Authorization": "Bearer " + __DISCOVERY_TOKEN})
    with urllib.request.urlopen(req) as resp:
        return json.loads(resp.read().decode("utf-8"))


def ask(messages, model=None, system_prompt=None, max_tokens=None):
    if not __SAMPLING_URL:
        raise RuntimeError("sampling is not enabled for this execution")
    return _post(__SAMPLING_URL, __SAMPLING_TOKEN, {
        "messages": messages, "model": model, "systemPrompt": system_prompt, "maxTokens": max_tokens,
    })


def think(prompt, **kwargs):
    return ask([{"role": "user", "content": prompt}], **kwargs)
# --- end sandbox runtime primitives ---

`, ep.ToolCallURL, ep.ToolCallToken, ep.DiscoveryURL, ep.DiscoveryToken, ep.SamplingURL, ep.SamplingToken)
}
