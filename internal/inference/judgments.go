package inference

import (
	"context"
	"fmt"
	"strings"
)

// Text is a title/body pair fed into a prompt.
type Text struct {
	Title   string
	Content string
}

// SimilarityJudgment is the reply to "do these two texts report the same event".
type SimilarityJudgment struct {
	SameStory  bool    `json:"same_story"`
	Confidence float64 `json:"confidence"`
	Difference float64 `json:"difference"`
	IsBreaking bool    `json:"is_breaking"`
	Reasoning  string  `json:"reasoning"`
}

// Score folds the judgment into one similarity value in [0,1]:
// confidence when the model says same story, 1-confidence otherwise.
func (j SimilarityJudgment) Score() float64 {
	confidence := j.Confidence
	// Some models answer in percent.
	if confidence > 1 {
		confidence /= 100
	}
	confidence = clamp(confidence, 0, 1)
	if j.SameStory {
		return confidence
	}
	return 1 - confidence
}

// DifferenceJudgment compares an incoming item with existing canonical text.
// Difference is the percentage of the incoming text that is new.
type DifferenceJudgment struct {
	Difference        float64 `json:"difference"`
	HasNewInformation bool    `json:"has_new_information"`
	Reasoning         string  `json:"reasoning"`
}

// BilingualContent is a generated or merged article. On merges the Khmer
// fields may come back empty.
type BilingualContent struct {
	TitleEN   string `json:"title_en"`
	ContentEN string `json:"content_en"`
	TitleKH   string `json:"title_kh"`
	ContentKH string `json:"content_kh"`
}

// Name is a bilingual label.
type Name struct {
	EN string `json:"en"`
	KH string `json:"kh"`
}

type Classification struct {
	Category Name   `json:"category"`
	Tags     []Name `json:"tags"`
}

const (
	judgmentMaxTokens    = 256
	generationMaxTokens  = 2048
	classifyMaxTokens    = 512
	defaultContextWindow = 8192
	promptContentRunes   = 4000
)

func JudgeSimilarity(ctx context.Context, gen Generator, incoming, candidate Text) (SimilarityJudgment, error) {
	judgment, err := Decode[SimilarityJudgment](ctx, gen, SchemaSimilarity, Request{
		Task:   TaskSimilarity,
		Prompt: similarityPrompt(incoming, candidate),
		Options: Options{
			Temperature:   0,
			MaxTokens:     judgmentMaxTokens,
			ContextWindow: defaultContextWindow,
			JSON:          true,
		},
	})
	if err != nil {
		return SimilarityJudgment{}, fmt.Errorf("judge similarity: %w", err)
	}
	return judgment, nil
}

func JudgeDifference(ctx context.Context, gen Generator, existing, incoming Text) (DifferenceJudgment, error) {
	judgment, err := Decode[DifferenceJudgment](ctx, gen, SchemaDifference, Request{
		Task:   TaskDifference,
		Prompt: differencePrompt(existing, incoming),
		Options: Options{
			Temperature:   0,
			MaxTokens:     judgmentMaxTokens,
			ContextWindow: defaultContextWindow,
			JSON:          true,
		},
	})
	if err != nil {
		return DifferenceJudgment{}, fmt.Errorf("judge difference: %w", err)
	}
	return judgment, nil
}

// GenerateBilingual writes a fresh article in English and Khmer. Both
// languages are required.
func GenerateBilingual(ctx context.Context, gen Generator, source Text) (BilingualContent, error) {
	content, err := Decode[BilingualContent](ctx, gen, SchemaGeneration, Request{
		Task:   TaskGenerate,
		Prompt: generationPrompt(source),
		Options: Options{
			Temperature:   0.3,
			MaxTokens:     generationMaxTokens,
			ContextWindow: defaultContextWindow,
			JSON:          true,
		},
	})
	if err != nil {
		return BilingualContent{}, fmt.Errorf("generate bilingual content: %w", err)
	}
	content = trimContent(content)
	if content.TitleKH == "" || content.ContentKH == "" {
		return BilingualContent{}, fmt.Errorf("generate bilingual content: %w: khmer text missing", ErrMalformedResponse)
	}
	return content, nil
}

// MergeBilingual folds incoming facts into an existing article. Khmer output
// is best effort and may be empty.
func MergeBilingual(ctx context.Context, gen Generator, existing BilingualContent, incoming Text) (BilingualContent, error) {
	content, err := Decode[BilingualContent](ctx, gen, SchemaMerge, Request{
		Task:   TaskMerge,
		Prompt: mergePrompt(existing, incoming),
		Options: Options{
			Temperature:   0.3,
			MaxTokens:     generationMaxTokens,
			ContextWindow: defaultContextWindow,
			JSON:          true,
		},
	})
	if err != nil {
		return BilingualContent{}, fmt.Errorf("merge bilingual content: %w", err)
	}
	return trimContent(content), nil
}

// ClassifyContent asks for a category and tags, preferring one of existing.
func ClassifyContent(ctx context.Context, gen Generator, text Text, existing []Name, tagsOnly bool) (Classification, error) {
	result, err := Decode[Classification](ctx, gen, SchemaClassification, Request{
		Task:   TaskClassify,
		Prompt: classificationPrompt(text, existing, tagsOnly),
		Options: Options{
			Temperature:   0.1,
			MaxTokens:     classifyMaxTokens,
			ContextWindow: defaultContextWindow,
			JSON:          true,
		},
	})
	if err != nil {
		return Classification{}, fmt.Errorf("classify content: %w", err)
	}
	result.Category.EN = strings.TrimSpace(result.Category.EN)
	result.Category.KH = strings.TrimSpace(result.Category.KH)
	tags := result.Tags[:0]
	for _, tag := range result.Tags {
		tag.EN = strings.TrimSpace(tag.EN)
		tag.KH = strings.TrimSpace(tag.KH)
		if tag.EN == "" {
			continue
		}
		tags = append(tags, tag)
	}
	result.Tags = tags
	return result, nil
}

func trimContent(c BilingualContent) BilingualContent {
	return BilingualContent{
		TitleEN:   strings.TrimSpace(c.TitleEN),
		ContentEN: strings.TrimSpace(c.ContentEN),
		TitleKH:   strings.TrimSpace(c.TitleKH),
		ContentKH: strings.TrimSpace(c.ContentKH),
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
