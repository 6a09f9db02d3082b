// Copyright 2025 Esmero
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package ami

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"
)

// TemplateRenderer turns a row into a JSON metadata body. When a
// template named <type>.tmpl exists in the template set it is executed
// with the row as context; otherwise the renderer falls back to a
// generic body built from the row's data columns.
type TemplateRenderer struct {
	templates *template.Template
	mapping   AdoMapping
}

// templateContext is what a metadata template sees.
type templateContext struct {
	UUID string
	Type string
	Row  int
	Data map[string]string

	// Previous is the stored body when updating, nil on create.
	Previous map[string]any
}

// NewTemplateRenderer loads every *.tmpl file under dir. An empty dir
// yields a renderer that always uses the generic fallback.
func NewTemplateRenderer(dir string, mapping AdoMapping) (*TemplateRenderer, error) {
	r := &TemplateRenderer{mapping: mapping}
	if dir == "" {
		return r, nil
	}
	tmpl, err := template.New("ami").Funcs(template.FuncMap{
		"json": func(v any) (string, error) {
			b, err := json.Marshal(v)
			return string(b), err
		},
		"split": strings.Split,
		"trim":  strings.TrimSpace,
	}).ParseGlob(dir + "/*.tmpl")
	if err != nil {
		return nil, fmt.Errorf("load metadata templates: %w", err)
	}
	r.templates = tmpl
	return r, nil
}

// Render implements MetadataRenderer.
func (r *TemplateRenderer) Render(ctx context.Context, row Row, previous *ObjectRecord) ([]byte, error) {
	if r.templates != nil {
		if tmpl := r.templates.Lookup(row.Type + ".tmpl"); tmpl != nil {
			return r.execute(tmpl.Name(), row, previous)
		}
	}
	return r.generic(row, previous)
}

func (r *TemplateRenderer) execute(name string, row Row, previous *ObjectRecord) ([]byte, error) {
	tc := templateContext{
		UUID: row.UUID,
		Type: row.Type,
		Row:  row.RowNumber(),
		Data: row.Data,
	}
	if previous != nil {
		tc.Previous = previous.Body
	}

	var buf bytes.Buffer
	if err := r.templates.ExecuteTemplate(&buf, name, tc); err != nil {
		return nil, fmt.Errorf("execute template %s: %w", name, err)
	}
	out := bytes.TrimSpace(buf.Bytes())
	if len(out) == 0 {
		return nil, fmt.Errorf("template %s produced empty output", name)
	}
	if !json.Valid(out) {
		return nil, fmt.Errorf("template %s produced invalid JSON", name)
	}
	return out, nil
}

// generic builds a flat body from the data columns, skipping the
// structural ones (uuid, type, parents) since those travel on the
// record itself.
func (r *TemplateRenderer) generic(row Row, previous *ObjectRecord) ([]byte, error) {
	structural := map[string]bool{
		r.mapping.UUIDColumn: true,
		r.mapping.TypeColumn: true,
		SyncColumn:           true,
	}
	for _, pc := range r.mapping.ParentColumns {
		structural[pc] = true
	}

	body := make(map[string]any)
	if previous != nil {
		for k, v := range previous.Body {
			body[k] = v
		}
	}
	for k, v := range row.Data {
		if structural[k] || strings.TrimSpace(v) == "" {
			continue
		}
		body[k] = v
	}
	body["type"] = row.Type

	out, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal generic body: %w", err)
	}
	return out, nil
}
