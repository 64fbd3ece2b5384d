package api

import (
	"encoding/json"
	"net/http"
	"strings"

	yaml "gopkg.in/yaml.v3"
)

const swaggerCDN = "https://cdn.jsdelivr.net/npm/swagger-ui-dist@5"

// openAPIJSON converts the YAML document to JSON and points its server list
// at the host serving the request.
func openAPIJSON(r *http.Request) ([]byte, error) {
	data, err := openAPILoad()
	if err != nil {
		return nil, err
	}
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	scheme := "http"
	if r.TLS != nil || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https") {
		scheme = "https"
	}
	doc["servers"] = []map[string]string{{"url": scheme + "://" + r.Host}}
	return json.Marshal(doc)
}

// SwaggerHandler serves Swagger UI with the API document inlined. The
// tenant and role boxes fill the dev token or the X-Tenant-Id/X-Role headers.
func (s *Server) SwaggerHandler(w http.ResponseWriter, r *http.Request) {
	js, err := openAPIJSON(r)
	if err != nil { writeProblem(w, 500, "OpenAPI not available", err.Error(), r.URL.Path); return }
	page := strings.NewReplacer("{{CDN}}", swaggerCDN, "{{SPEC}}", string(js)).Replace(swaggerPage)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(page))
}

const swaggerPage = `<!DOCTYPE html><html lang="en"><head>
<title>CVRP Solver Console</title>
<meta charset="utf-8"/>
<meta name="viewport" content="width=device-width,initial-scale=1">
<link rel="stylesheet" href="{{CDN}}/swagger-ui.css" />
<style>body{margin:0} .topbar{display:none} #who{position:fixed;top:8px;right:8px;padding:8px;background:#fff;border:1px solid #ccc;z-index:9;font:13px sans-serif}</style>
</head><body>
<div id="who">
  <label>Tenant <input id="tenant" size="10"></label>
  <label>Role <select id="role"><option>admin</option><option>planner</option><option>viewer</option></select></label>
  <label>Token <input id="token" size="24" placeholder="JWT (hmac/jwks)"></label>
</div>
<div id="swagger-ui"></div>
<script src="{{CDN}}/swagger-ui-bundle.js"></script>
<script>
const spec = {{SPEC}};
const fields = ["tenant", "role", "token"];
for (const f of fields) {
  const el = document.getElementById(f);
  el.value = localStorage.getItem("cvrp." + f) || (f === "tenant" ? "t_demo" : el.value);
  el.addEventListener("change", () => localStorage.setItem("cvrp." + f, el.value));
}
SwaggerUIBundle({
  spec: spec,
  dom_id: "#swagger-ui",
  deepLinking: true,
  requestInterceptor: (req) => {
    const v = (f) => document.getElementById(f).value;
    req.headers["Authorization"] = "Bearer " + (v("token") || v("tenant") + ":" + v("role"));
    req.headers["X-Tenant-Id"] = v("tenant");
    req.headers["X-Role"] = v("role");
    return req;
  }
});
</script>
</body></html>`
