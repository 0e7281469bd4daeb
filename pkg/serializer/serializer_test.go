// Copyright (c) 2025, NVIDIA CORPORATION.  All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package serializer

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"

	apperrors "github.com/NVIDIA/slurm-k8s-bridge/pkg/errors"
)

type sample struct {
	Name   string            `json:"name" yaml:"name"`
	Count  int               `json:"count" yaml:"count"`
	Labels map[string]string `json:"labels,omitempty" yaml:"labels,omitempty"`
}

func TestWriterFormats(t *testing.T) {
	v := sample{Name: "train", Count: 2, Labels: map[string]string{"a": "b"}}

	tests := []struct {
		format Format
		want   []string
	}{
		{FormatJSON, []string{`"name": "train"`, `"count": 2`}},
		{FormatYAML, []string{"name: train", "count: 2", "labels:\n  a: b"}},
		{FormatTable, []string{"FIELD", "Name", "train", "Labels.a"}},
		{Format("bogus"), []string{`"name": "train"`}},
	}

	for _, tt := range tests {
		t.Run(string(tt.format), func(t *testing.T) {
			var buf bytes.Buffer
			w := NewWriter(tt.format, &buf)
			require.NoError(t, w.Serialize(context.Background(), v))
			require.NoError(t, w.Close())
			for _, want := range tt.want {
				assert.Contains(t, buf.String(), want)
			}
		})
	}
}

func TestFileWriter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.yaml")
	w := NewFileWriterOrStdout(FormatYAML, path)
	require.NoError(t, w.Serialize(context.Background(), sample{Name: "x"}))
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "name: x")
}

func TestFormatFromPath(t *testing.T) {
	assert.Equal(t, FormatYAML, FormatFromPath("/etc/sbridge/config.YML"))
	assert.Equal(t, FormatYAML, FormatFromPath("config.yaml"))
	assert.Equal(t, FormatJSON, FormatFromPath("config.json"))
	assert.Equal(t, FormatTable, FormatFromPath("out.txt"))
	assert.Equal(t, FormatJSON, FormatFromPath("config"))
}

func TestReader(t *testing.T) {
	_, err := NewReader(FormatTable, strings.NewReader(""))
	assert.Error(t, err)

	r, err := NewReader(FormatYAML, strings.NewReader("name: a\ncount: 3\n"))
	require.NoError(t, err)
	var got sample
	require.NoError(t, r.Deserialize(&got))
	assert.Equal(t, sample{Name: "a", Count: 3}, got)

	r, err = NewReader(FormatJSON, strings.NewReader(`{"name":"a","extra":1}`))
	require.NoError(t, err)
	assert.Error(t, r.Strict().Deserialize(&got))
}

func TestFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sample.yaml")
	require.NoError(t, os.WriteFile(path, []byte("name: from-file\ncount: 7\n"), 0o600))

	got, err := FromFile[sample](path)
	require.NoError(t, err)
	assert.Equal(t, "from-file", got.Name)
	assert.Equal(t, 7, got.Count)

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("name: x\nunknown: y\n"), 0o600))
	_, err = FromFile[sample](bad)
	assert.Error(t, err)

	_, err = FromFile[sample](filepath.Join(dir, "missing.json"))
	assert.Error(t, err)
}

func TestFromFileURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"name":"remote","count":1}`))
	}))
	defer srv.Close()

	got, err := FromFile[sample](srv.URL + "/config.json")
	require.NoError(t, err)
	assert.Equal(t, "remote", got.Name)
}

func TestFromConfigMap(t *testing.T) {
	kube := fake.NewClientset(&corev1.ConfigMap{
		ObjectMeta: metav1.ObjectMeta{Name: "sbridge", Namespace: "slurm-bridge"},
		Data:       map[string]string{"config.json": `{"name":"cm","count":4}`},
	}, &corev1.ConfigMap{
		ObjectMeta: metav1.ObjectMeta{Name: "empty", Namespace: "slurm-bridge"},
		Data:       map[string]string{"other": "x"},
	})

	got, err := FromConfigMap[sample](context.Background(), kube, "slurm-bridge", "sbridge")
	require.NoError(t, err)
	assert.Equal(t, sample{Name: "cm", Count: 4}, *got)

	_, err = FromConfigMap[sample](context.Background(), kube, "slurm-bridge", "empty")
	assert.Error(t, err)

	_, err = FromConfigMap[sample](context.Background(), kube, "slurm-bridge", "missing")
	assert.Error(t, err)
}

func TestParseConfigMapURI(t *testing.T) {
	tests := []struct {
		uri       string
		namespace string
		name      string
		wantErr   bool
	}{
		{uri: "cm://slurm-bridge/sbridge", namespace: "slurm-bridge", name: "sbridge"},
		{uri: "cm://slurm-bridge / sbridge ", namespace: "slurm-bridge", name: "sbridge"},
		{uri: "slurm-bridge/sbridge", wantErr: true},
		{uri: "http://slurm-bridge/sbridge", wantErr: true},
		{uri: "cm://slurm-bridge/", wantErr: true},
		{uri: "cm:///sbridge", wantErr: true},
		{uri: "cm://slurm-bridge", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.uri, func(t *testing.T) {
			ns, name, err := parseConfigMapURI(tt.uri)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.namespace, ns)
			assert.Equal(t, tt.name, name)
		})
	}
}

func TestRespondJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	RespondJSON(rec, http.StatusAccepted, sample{Name: "ok"})

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	var got sample
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "ok", got.Name)

	rec = httptest.NewRecorder()
	RespondJSON(rec, http.StatusOK, make(chan int))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestClient(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ok", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "sbridge-test", r.Header.Get("User-Agent"))
		assert.Equal(t, "token", r.Header.Get("X-Token"))
		RespondJSON(w, http.StatusOK, sample{Name: "got"})
	})
	mux.HandleFunc("POST /echo", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var in sample
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		in.Count++
		RespondJSON(w, http.StatusOK, in)
	})
	mux.HandleFunc("GET /coded", func(w http.ResponseWriter, _ *http.Request) {
		RespondJSON(w, http.StatusNotFound, map[string]string{"code": "NOT_FOUND", "message": "no such job"})
	})
	mux.HandleFunc("GET /plain", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewClient(WithUserAgent("sbridge-test"), WithHeader("X-Token", "token"), WithHTTPClient(srv.Client()))
	ctx := context.Background()

	var got sample
	require.NoError(t, c.GetJSON(ctx, srv.URL+"/ok", &got))
	assert.Equal(t, "got", got.Name)

	require.NoError(t, c.PostJSON(ctx, srv.URL+"/echo", sample{Name: "e", Count: 1}, &got))
	assert.Equal(t, sample{Name: "e", Count: 2}, got)

	err := c.GetJSON(ctx, srv.URL+"/coded", &got)
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeNotFound, apperrors.CodeOf(err))
	assert.Contains(t, err.Error(), "no such job")

	err = c.GetJSON(ctx, srv.URL+"/plain", &got)
	assert.Equal(t, apperrors.ErrCodeUnavailable, apperrors.CodeOf(err))

	err = c.GetJSON(ctx, "", &got)
	assert.Error(t, err)
}
