package projects

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

const (
	EndpointImageLayered = "fal-ai/qwen-image-layered"

	MinLayerCount     = 2
	MaxLayerCount     = 10
	DefaultLayerCount = 4
)

var (
	ErrEmptyOutput     = errors.New("inference output contains no images")
	ErrMalformedOutput = errors.New("inference output is malformed")
)

// PredictionInput is the request persisted on Prediction.Input and sent to the endpoint.
type PredictionInput struct {
	ImageURL  string `json:"image_url"`
	NumLayers int    `json:"num_layers"`
}

// OutputImage describes one generated layer as returned by the inference endpoint.
type OutputImage struct {
	URL         string `json:"url"`
	ContentType string `json:"content_type"`
	FileName    string `json:"file_name"`
	FileSize    *int64 `json:"file_size"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
}

type rawImage struct {
	URL         string   `json:"url"`
	ContentType string   `json:"content_type"`
	FileName    *string  `json:"file_name"`
	FileSize    *float64 `json:"file_size"`
	Width       *float64 `json:"width"`
	Height      *float64 `json:"height"`
}

// ParseLayersOutput validates a raw inference response and returns its images in order.
// Errors wrap ErrEmptyOutput or ErrMalformedOutput.
func ParseLayersOutput(raw []byte) ([]OutputImage, error) {
	var body struct {
		Images *[]rawImage `json:"images"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}
	if body.Images == nil {
		return nil, fmt.Errorf("%w: missing images", ErrMalformedOutput)
	}
	if len(*body.Images) == 0 {
		return nil, ErrEmptyOutput
	}
	out := make([]OutputImage, 0, len(*body.Images))
	for i, img := range *body.Images {
		if u, err := url.Parse(strings.TrimSpace(img.URL)); err != nil || !u.IsAbs() || u.Host == "" {
			return nil, fmt.Errorf("%w: images[%d].url %q is not an absolute url", ErrMalformedOutput, i, img.URL)
		}
		if strings.TrimSpace(img.ContentType) == "" {
			return nil, fmt.Errorf("%w: images[%d].content_type empty", ErrMalformedOutput, i)
		}
		if img.FileName == nil || img.Width == nil || img.Height == nil {
			return nil, fmt.Errorf("%w: images[%d] missing file_name/width/height", ErrMalformedOutput, i)
		}
		if *img.Width < 0 || *img.Height < 0 {
			return nil, fmt.Errorf("%w: images[%d] negative dimensions", ErrMalformedOutput, i)
		}
		o := OutputImage{
			URL:         img.URL,
			ContentType: img.ContentType,
			FileName:    *img.FileName,
			Width:       int(*img.Width),
			Height:      int(*img.Height),
		}
		if img.FileSize != nil {
			n := int64(*img.FileSize)
			o.FileSize = &n
		}
		out = append(out, o)
	}
	return out, nil
}

// OutputURLs pulls image URLs out of a persisted output without validating it.
// Used to render layers before blob rows exist.
func OutputURLs(raw []byte) []string {
	var body struct {
		Images []struct {
			URL string `json:"url"`
		} `json:"images"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil
	}
	urls := make([]string, 0, len(body.Images))
	for _, img := range body.Images {
		if img.URL != "" {
			urls = append(urls, img.URL)
		}
	}
	return urls
}

// OutputBlobID derives the blob id for output index of a prediction. The same
// pair always yields the same id, which is what lets the upload step detect work
// finished by an earlier attempt.
func OutputBlobID(predictionID string, index int) string {
	return predictionID + "-" + strconv.Itoa(index)
}

// NormalizeLayerCount applies the default and rejects values outside the allowed range.
func NormalizeLayerCount(n *int) (int, error) {
	if n == nil {
		return DefaultLayerCount, nil
	}
	if *n < MinLayerCount || *n > MaxLayerCount {
		return 0, fmt.Errorf("layer count must be between %d and %d", MinLayerCount, MaxLayerCount)
	}
	return *n, nil
}
