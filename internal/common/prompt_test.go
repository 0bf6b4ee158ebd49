package common

import (
	"reflect"
	"testing"
)

func TestRenderPrompt(t *testing.T) {
	tests := []struct {
		name     string
		template string
		variant  map[string]string
		want     string
	}{
		{
			name:     "single variable",
			template: "write about {topic}",
			variant:  map[string]string{"topic": "lighthouses"},
			want:     "write about lighthouses",
		},
		{
			name:     "multiple variables",
			template: "A {style} painting of a {subject}",
			variant:  map[string]string{"style": "watercolor", "subject": "lighthouse"},
			want:     "A watercolor painting of a lighthouse",
		},
		{
			name:     "repeated variable",
			template: "{name} and {name} again",
			variant:  map[string]string{"name": "echo"},
			want:     "echo and echo again",
		},
		{
			name:     "unresolved reference left unchanged",
			template: "write about {topic} in {tone}",
			variant:  map[string]string{"topic": "rivers"},
			want:     "write about rivers in {tone}",
		},
		{
			name:     "hyphen and underscore names",
			template: "{word-count} words, {max_tokens} tokens",
			variant:  map[string]string{"word-count": "500", "max_tokens": "1024"},
			want:     "500 words, 1024 tokens",
		},
		{
			name:     "case sensitive",
			template: "write about {Topic}",
			variant:  map[string]string{"topic": "rivers"},
			want:     "write about {Topic}",
		},
		{
			name:     "no variables",
			template: "plain prompt",
			variant:  map[string]string{"topic": "unused"},
			want:     "plain prompt",
		},
		{
			name:     "empty template",
			template: "",
			variant:  map[string]string{"topic": "x"},
			want:     "",
		},
		{
			name:     "empty replacement value",
			template: "prefix {gap} suffix",
			variant:  map[string]string{"gap": ""},
			want:     "prefix  suffix",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RenderPrompt(tt.template, tt.variant, nil)
			if got != tt.want {
				t.Errorf("RenderPrompt() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTemplateVariables(t *testing.T) {
	tests := []struct {
		template string
		want     []string
	}{
		{"write about {topic} in {tone}", []string{"topic", "tone"}},
		{"{a} then {b} then {a}", []string{"a", "b"}},
		{"no variables here", nil},
		{"", nil},
	}

	for _, tt := range tests {
		got := TemplateVariables(tt.template)
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("TemplateVariables(%q) = %v, want %v", tt.template, got, tt.want)
		}
	}
}
