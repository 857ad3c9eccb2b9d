package artifact

import (
	"strings"
	"text/template"

	"ratchet/internal/record"
)

// tmplEntry binds a category to an artifact kind, file extension, and
// template. Adding a category is a table edit.
type tmplEntry struct {
	kind string
	ext  string
	t    *template.Template
}

func (e tmplEntry) render(rec *record.Record) (string, error) {
	var b strings.Builder
	if err := e.t.Execute(&b, rec); err != nil {
		return "", err
	}
	return b.String(), nil
}

func mustTmpl(name, text string) *template.Template {
	return template.Must(template.New(name).Parse(text))
}

var workloadTmpl = mustTmpl("workload", `apiVersion: apps/v1
kind: Deployment
metadata:
  name: {{.Title | printf "%.63s"}}
  labels:
    ratchet/record: {{.ID}}
  annotations:
    ratchet/description: |
      {{.Description}}
spec:
  replicas: 2
  selector:
    matchLabels:
      ratchet/record: {{.ID}}
  template:
    metadata:
      labels:
        ratchet/record: {{.ID}}
{{- if .Evaluation}}
        ratchet/priority: {{.Evaluation.Priority}}
{{- end}}
`)

var accessPolicyTmpl = mustTmpl("access-policy", `apiVersion: rbac.authorization.k8s.io/v1
kind: Role
metadata:
  name: {{.Title | printf "%.63s"}}
  labels:
    ratchet/record: {{.ID}}
  annotations:
    ratchet/description: |
      {{.Description}}
rules: []
`)

var migrationTmpl = mustTmpl("migration", `-- migration for record {{.ID}}
-- {{.Title}}
--
-- {{.Description}}
{{- if .Evaluation}}
-- priority: {{.Evaluation.Priority}} risk: {{.Evaluation.Risk}}
{{- end}}

BEGIN;
-- TODO(operator): review generated migration body before merge
COMMIT;
`)

var dashboardTmpl = mustTmpl("dashboard", `title: {{.Title}}
record: {{.ID}}
description: |
  {{.Description}}
panels:
  - title: error rate
    query: rate(errors_total[5m])
  - title: latency p99
    query: histogram_quantile(0.99, rate(latency_bucket[5m]))
`)

var networkPolicyTmpl = mustTmpl("network-policy", `apiVersion: networking.k8s.io/v1
kind: NetworkPolicy
metadata:
  name: {{.Title | printf "%.63s"}}
  labels:
    ratchet/record: {{.ID}}
  annotations:
    ratchet/description: |
      {{.Description}}
spec:
  podSelector: {}
  policyTypes: [Ingress]
`)

var runbookTmpl = mustTmpl("runbook", `# {{.Title}}

record: {{.ID}}
source: {{.Source}}
category: {{.Category}}

{{.Description}}
{{- if .Evaluation}}

Rationale: {{.Evaluation.Rationale}}
{{- end}}
`)

var templates = map[record.Category]tmplEntry{
	record.CategoryArchitecture: {kind: "workload", ext: ".yaml", t: workloadTmpl},
	record.CategorySecurity:     {kind: "access-policy", ext: ".yaml", t: accessPolicyTmpl},
	record.CategoryDatabase:     {kind: "migration", ext: ".sql", t: migrationTmpl},
	record.CategoryMonitoring:   {kind: "dashboard", ext: ".yaml", t: dashboardTmpl},
	record.CategoryNetworking:   {kind: "network-policy", ext: ".yaml", t: networkPolicyTmpl},
}

var genericTemplate = tmplEntry{kind: "runbook", ext: ".md", t: runbookTmpl}

// templateFor returns the category's template, or the generic runbook.
func templateFor(cat record.Category) tmplEntry {
	if e, ok := templates[cat]; ok {
		return e
	}
	return genericTemplate
}
