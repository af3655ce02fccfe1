package parser

import (
	"context"
	"fmt"
	"os"
	"strings"

	"google.golang.org/genai"
)

// defaultOCRModel is the Gemini model used for OCR when OCR_MODEL is unset.
const defaultOCRModel = "gemini-2.0-flash"

// ocrInstruction asks the model for a verbatim transcription only.
const ocrInstruction = "Transcribe all text in this document exactly as written, page by page, " +
	"preserving line breaks. Output only the transcribed text with no commentary. " +
	"If the document contains no text, output nothing."

// GeminiOCR implements OCR by sending the whole document to a Gemini model
// as inline data. It is safe for concurrent use.
type GeminiOCR struct {
	// client is the genai client bound to the Gemini API backend.
	client *genai.Client
	// model is the Gemini model name (e.g. "gemini-2.0-flash").
	model string
}

// GeminiOCRConfig holds the settings for constructing a GeminiOCR.
type GeminiOCRConfig struct {
	// APIKey is the Google API key.
	APIKey string
	// Model overrides defaultOCRModel when set.
	Model string
}

// NewGeminiOCR constructs a GeminiOCR from cfg.
func NewGeminiOCR(ctx context.Context, cfg *GeminiOCRConfig) (*GeminiOCR, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("parser: gemini OCR requires an API key")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("parser: create genai client: %w", err)
	}
	model := cfg.Model
	if model == "" {
		model = defaultOCRModel
	}
	return &GeminiOCR{client: client, model: model}, nil
}

// Recognize returns the text Gemini transcribes from data.
func (o *GeminiOCR) Recognize(ctx context.Context, data []byte, mimeType string) (string, error) {
	contents := []*genai.Content{
		{
			Role: genai.RoleUser,
			Parts: []*genai.Part{
				genai.NewPartFromBytes(data, mimeType),
				genai.NewPartFromText(ocrInstruction),
			},
		},
	}
	resp, err := o.client.Models.GenerateContent(ctx, o.model, contents, &genai.GenerateContentConfig{
		Temperature: genai.Ptr[float32](0),
	})
	if err != nil {
		return "", fmt.Errorf("parser: gemini OCR: %w", err)
	}
	return strings.TrimSpace(resp.Text()), nil
}

// NewOCRFromEnv builds the OCR backend selected by OCR_PROVIDER.
//
//	OCR_PROVIDER = gemini | none   (default: gemini when GOOGLE_API_KEY is set, else none)
//	OCR_MODEL    = Gemini model    (default: gemini-2.0-flash)
//
// It returns a nil OCR and nil error when OCR is disabled.
func NewOCRFromEnv(ctx context.Context) (OCR, error) {
	apiKey := os.Getenv("OCR_API_KEY")
	if apiKey == "" {
		apiKey = os.Getenv("GOOGLE_API_KEY")
	}

	provider := os.Getenv("OCR_PROVIDER")
	if provider == "" {
		provider = "none"
		if apiKey != "" {
			provider = "gemini"
		}
	}

	switch provider {
	case "none":
		return nil, nil
	case "gemini":
		ocr, err := NewGeminiOCR(ctx, &GeminiOCRConfig{
			APIKey: apiKey,
			Model:  os.Getenv("OCR_MODEL"),
		})
		if err != nil {
			return nil, err
		}
		return ocr, nil
	default:
		return nil, fmt.Errorf("parser: unknown OCR_PROVIDER %q, valid values: gemini, none", provider)
	}
}
