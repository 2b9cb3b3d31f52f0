package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/sirupsen/logrus"

	"github.com/temcen/searchrank/internal/config"
	"github.com/temcen/searchrank/pkg/models"
)

var ErrGraphDisabled = errors.New("engagement graph is disabled")

type engagement struct {
	shopper   string
	productID uuid.UUID
	eventType models.EventType
}

// EngagementGraph mirrors processed events into Neo4j as
// (:Shopper)-[:ENGAGED_WITH]->(:Product) edges and answers co-engagement
// queries over them. Writes are batched off the event worker.
type EngagementGraph struct {
	driver   neo4j.DriverWithContext
	products ProductReader
	cfg      config.Neo4jConfig
	logger   *logrus.Logger

	pending  chan engagement
	stopChan chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

func NewEngagementGraph(driver neo4j.DriverWithContext, products ProductReader, cfg config.Neo4jConfig, logger *logrus.Logger) *EngagementGraph {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Second
	}
	return &EngagementGraph{
		driver:   driver,
		products: products,
		cfg:      cfg,
		logger:   logger,
		pending:  make(chan engagement, cfg.BatchSize*10),
		stopChan: make(chan struct{}),
	}
}

func (g *EngagementGraph) Enabled() bool {
	return g != nil && g.driver != nil
}

func (g *EngagementGraph) Start() {
	if !g.Enabled() {
		return
	}
	g.wg.Add(1)
	go g.batchWorker()
}

// Stop flushes whatever is buffered and waits for the writer to exit.
func (g *EngagementGraph) Stop() {
	if !g.Enabled() {
		return
	}
	g.stopOnce.Do(func() { close(g.stopChan) })
	g.wg.Wait()
}

// EventProcessed implements EventObserver. Search events and events without
// a product or shopper identity are not part of the graph.
func (g *EngagementGraph) EventProcessed(ctx context.Context, event *models.Event) {
	if !g.Enabled() || event.ProductID == nil || event.Type == models.EventSearch {
		return
	}

	shopper := shopperID(event)
	if shopper == "" {
		return
	}

	select {
	case g.pending <- engagement{shopper: shopper, productID: *event.ProductID, eventType: event.Type}:
	default:
		g.logger.WithField("event_id", event.ID).Warn("Engagement graph buffer full, dropping edge")
	}
}

func shopperID(event *models.Event) string {
	if event.SessionID != nil {
		return "session:" + *event.SessionID
	}
	if event.UserID != nil {
		return "user:" + *event.UserID
	}
	return ""
}

func (g *EngagementGraph) batchWorker() {
	defer g.wg.Done()

	ticker := time.NewTicker(g.cfg.FlushInterval)
	defer ticker.Stop()

	batch := make([]engagement, 0, g.cfg.BatchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := g.writeBatch(ctx, batch); err != nil {
			g.logger.WithError(err).WithField("batch_size", len(batch)).Error("Failed to write engagement batch")
		} else {
			g.logger.WithField("batch_size", len(batch)).Debug("Wrote engagement batch")
		}
		cancel()
		batch = batch[:0]
	}

	for {
		select {
		case e := <-g.pending:
			batch = append(batch, e)
			if len(batch) >= g.cfg.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-g.stopChan:
			for {
				select {
				case e := <-g.pending:
					batch = append(batch, e)
				default:
					flush()
					return
				}
			}
		}
	}
}

// collapseEngagements turns a batch into one row per edge with its count.
func collapseEngagements(batch []engagement) []map[string]interface{} {
	counts := make(map[engagement]int64, len(batch))
	order := make([]engagement, 0, len(batch))
	for _, e := range batch {
		if _, seen := counts[e]; !seen {
			order = append(order, e)
		}
		counts[e]++
	}

	rows := make([]map[string]interface{}, len(order))
	for i, k := range order {
		rows[i] = map[string]interface{}{
			"shopper_id": k.shopper,
			"product_id": k.productID.String(),
			"type":       string(k.eventType),
			"count":      counts[k],
		}
	}
	return rows
}

func (g *EngagementGraph) writeBatch(ctx context.Context, batch []engagement) error {
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	cypher := `
		UNWIND $rows AS row
		MERGE (s:Shopper {id: row.shopper_id})
		MERGE (p:Product {id: row.product_id})
		MERGE (s)-[r:ENGAGED_WITH {type: row.type}]->(p)
		ON CREATE SET r.count = 0
		SET r.count = r.count + row.count,
			r.updated_at = datetime()`

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (interface{}, error) {
		result, err := tx.Run(ctx, cypher, map[string]interface{}{
			"rows": collapseEngagements(batch),
		})
		if err != nil {
			return nil, err
		}
		return result.Consume(ctx)
	})
	return err
}

type relatedRow struct {
	productID    uuid.UUID
	shoppers     int64
	interactions int64
}

// RelatedProducts returns products engaged with by the shoppers who engaged
// with productID, most shared shoppers first.
func (g *EngagementGraph) RelatedProducts(ctx context.Context, productID uuid.UUID, limit int) ([]models.RelatedProduct, error) {
	if !g.Enabled() {
		return nil, ErrGraphDisabled
	}

	session := g.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	cypher := `
		MATCH (p:Product {id: $product_id})<-[:ENGAGED_WITH]-(s:Shopper)-[e:ENGAGED_WITH]->(other:Product)
		WHERE other.id <> $product_id
		RETURN other.id AS product_id, count(DISTINCT s) AS shoppers, sum(e.count) AS interactions
		ORDER BY shoppers DESC, interactions DESC, product_id
		LIMIT $limit`

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (interface{}, error) {
		res, err := tx.Run(ctx, cypher, map[string]interface{}{
			"product_id": productID.String(),
			"limit":      limit,
		})
		if err != nil {
			return nil, err
		}

		var rows []relatedRow
		for res.Next(ctx) {
			record := res.Record()
			idStr, _ := record.Get("product_id")
			shoppers, _ := record.Get("shoppers")
			interactions, _ := record.Get("interactions")

			s, ok := idStr.(string)
			if !ok {
				continue
			}
			id, err := uuid.Parse(s)
			if err != nil {
				continue
			}
			row := relatedRow{productID: id}
			row.shoppers, _ = shoppers.(int64)
			row.interactions, _ = interactions.(int64)
			rows = append(rows, row)
		}
		return rows, res.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query related products: %w", err)
	}

	rows, _ := result.([]relatedRow)
	ids := make([]uuid.UUID, len(rows))
	for i, r := range rows {
		ids[i] = r.productID
	}
	products, err := g.products.GetProducts(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load products: %w", err)
	}

	related := make([]models.RelatedProduct, 0, len(rows))
	for _, r := range rows {
		if p, ok := products[r.productID]; ok {
			related = append(related, models.RelatedProduct{Product: p, Shoppers: r.shoppers, Interactions: r.interactions})
		}
	}
	return related, nil
}
