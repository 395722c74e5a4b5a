package pipeline

import (
	"context"
	"regexp"
	"strings"
)

type Extractor interface {
	Extract(ctx context.Context, text string) (map[string]any, error)
}

var imageMarker = regexp.MustCompile(`\[IMAGE alt="((?:[^"\\]|\\.)*)" src="([^"]*)"\]`)

// BasicExtractor derives store metadata from cleaned page text without any
// model in the loop: the first line is taken as the store name and image
// markers are collected.
type BasicExtractor struct {
	MaxImages  int
	ExcerptLen int
}

func (e BasicExtractor) Extract(ctx context.Context, text string) (map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	maxImages := e.MaxImages
	if maxImages <= 0 {
		maxImages = 20
	}
	excerptLen := e.ExcerptLen
	if excerptLen <= 0 {
		excerptLen = 500
	}

	images := []string{}
	for _, m := range imageMarker.FindAllStringSubmatch(text, -1) {
		if len(images) == maxImages {
			break
		}
		images = append(images, m[2])
	}

	plain := strings.TrimSpace(imageMarker.ReplaceAllString(text, ""))

	storeName := ""
	for _, line := range strings.Split(plain, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			storeName = line
			break
		}
	}

	excerpt := strings.Join(strings.Fields(plain), " ")
	if r := []rune(excerpt); len(r) > excerptLen {
		excerpt = string(r[:excerptLen])
	}

	return map[string]any{
		"store_name": storeName,
		"excerpt":    excerpt,
		"word_count": len(strings.Fields(plain)),
		"images":     images,
	}, nil
}
