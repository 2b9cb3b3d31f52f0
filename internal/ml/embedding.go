package ml

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode"

	json "github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
	"gonum.org/v1/gonum/floats"

	"github.com/temcen/searchrank/internal/config"
)

var ErrEmptyText = errors.New("text cannot be empty")

// EmbeddingService turns text into a fixed-length vector.
type EmbeddingService interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
}

// TextEmbeddingService calls an OpenAI-compatible embeddings endpoint when
// one is configured and otherwise, or when the endpoint fails, falls back to
// a deterministic feature-hashing embedding of the normalized tokens.
type TextEmbeddingService struct {
	cfg        config.EmbeddingConfig
	httpClient *http.Client
	cache      *redis.Client
	breaker    *gobreaker.CircuitBreaker[[]float32]
	logger     *logrus.Logger
}

func NewTextEmbeddingService(cfg config.EmbeddingConfig, breakerCfg config.BreakerConfig, cache *redis.Client, logger *logrus.Logger, listener StateListener) *TextEmbeddingService {
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = 384
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 24 * time.Hour
	}

	return &TextEmbeddingService{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		cache:      cache,
		breaker:    newBreaker[[]float32]("embedding-api", breakerCfg, logger, listener),
		logger:     logger,
	}
}

func (s *TextEmbeddingService) Dimensions() int {
	return s.cfg.Dimensions
}

func (s *TextEmbeddingService) Embed(ctx context.Context, text string) ([]float32, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyText
	}

	key := s.cacheKey(text)
	if cached, ok := s.getCached(ctx, key); ok {
		return cached, nil
	}

	var embedding []float32
	if s.cfg.URL != "" {
		remote, err := s.breaker.Execute(func() ([]float32, error) {
			return s.remoteEmbed(ctx, text)
		})
		if err != nil {
			s.logger.WithError(err).Warn("Embedding API failed, using hashed embedding")
		} else if len(remote) != s.cfg.Dimensions {
			s.logger.WithFields(logrus.Fields{
				"expected": s.cfg.Dimensions,
				"got":      len(remote),
			}).Warn("Embedding API returned unexpected dimensions, using hashed embedding")
		} else {
			embedding = remote
		}
	}
	if embedding == nil {
		embedding = s.HashedEmbedding(text)
	}

	s.setCached(ctx, key, embedding)
	return embedding, nil
}

type embeddingRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

func (s *TextEmbeddingService) remoteEmbed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(embeddingRequest{Model: s.cfg.Model, Input: text})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(s.cfg.URL, "/")+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embedding API returned status %d", resp.StatusCode)
	}

	var decoded embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("failed to decode embedding response: %w", err)
	}
	if len(decoded.Data) == 0 {
		return nil, errors.New("embedding API returned no data")
	}
	return l2Normalize(decoded.Data[0].Embedding), nil
}

// HashedEmbedding projects unigrams and bigrams onto the configured number of
// dimensions with signed feature hashing. Texts sharing tokens land close
// together under cosine similarity.
func (s *TextEmbeddingService) HashedEmbedding(text string) []float32 {
	vec := make([]float64, s.cfg.Dimensions)
	tokens := s.tokenize(text)

	add := func(feature string, weight float64) {
		sum := sha256.Sum256([]byte(feature))
		idx := binary.BigEndian.Uint32(sum[0:4]) % uint32(len(vec))
		if sum[4]&1 == 1 {
			weight = -weight
		}
		vec[idx] += weight
	}

	for i, tok := range tokens {
		add(tok, 1.0)
		if i > 0 {
			add(tokens[i-1]+" "+tok, 0.5)
		}
	}

	out := make([]float32, len(vec))
	n := floats.Norm(vec, 2)
	if n == 0 {
		return out
	}
	floats.Scale(1/n, vec)
	for i, v := range vec {
		out[i] = float32(v)
	}
	return out
}

func (s *TextEmbeddingService) tokenize(text string) []string {
	folded := cases.Fold().String(norm.NFKC.String(text))
	return strings.FieldsFunc(folded, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

func l2Normalize(embedding []float32) []float32 {
	vec := make([]float64, len(embedding))
	for i, v := range embedding {
		vec[i] = float64(v)
	}
	n := floats.Norm(vec, 2)
	if n == 0 {
		return embedding
	}
	out := make([]float32, len(embedding))
	for i, v := range vec {
		out[i] = float32(v / n)
	}
	return out
}

func (s *TextEmbeddingService) cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return fmt.Sprintf("embed:text:%s:%d:%x", s.cfg.Model, s.cfg.Dimensions, sum[:8])
}

func (s *TextEmbeddingService) getCached(ctx context.Context, key string) ([]float32, bool) {
	if s.cache == nil {
		return nil, false
	}
	data, err := s.cache.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.logger.WithError(err).Debug("Embedding cache read failed")
		}
		return nil, false
	}
	var embedding []float32
	if err := json.Unmarshal(data, &embedding); err != nil {
		s.logger.WithError(err).WithField("key", key).Warn("Failed to deserialize cached embedding")
		return nil, false
	}
	return embedding, true
}

func (s *TextEmbeddingService) setCached(ctx context.Context, key string, embedding []float32) {
	if s.cache == nil {
		return
	}
	data, err := json.Marshal(embedding)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, key, data, s.cfg.CacheTTL).Err(); err != nil {
		s.logger.WithError(err).WithField("key", key).Warn("Failed to cache embedding")
	}
}
