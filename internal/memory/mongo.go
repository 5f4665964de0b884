package memory

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

const (
	memoriesCollection        = "memories"
	learningMetricsCollection = "learning_metrics"
	userPreferencesCollection = "user_preferences"
	defaultMongoOpTimeout     = 5 * time.Second
)

// mongoPersister mirrors memory/metrics/preference writes into MongoDB and
// serves conversation-history reads from it. A nil *mongoPersister (i.e. no
// configured URI) must never block Store's in-memory behavior.
type mongoPersister struct {
	client      *mongodriver.Client
	memories    *mongodriver.Collection
	metrics     *mongodriver.Collection
	preferences *mongodriver.Collection
	timeout     time.Duration
}

// ConnectMongo dials uri and ensures the indexes the Memory Store depends on:
// a unique compound index on (agent_id, task_type) for learning metrics, and
// a unique compound index on (user_id, preference_type) for user
// preferences. Returns an error if the server is unreachable; callers should
// fall back to in-memory-only operation rather than fail startup.
func ConnectMongo(ctx context.Context, uri, dbName string) (*mongoPersister, error) {
	client, err := mongodriver.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	pingCtx, cancel := context.WithTimeout(ctx, defaultMongoOpTimeout)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}

	db := client.Database(dbName)
	p := &mongoPersister{
		client:      client,
		memories:    db.Collection(memoriesCollection),
		metrics:     db.Collection(learningMetricsCollection),
		preferences: db.Collection(userPreferencesCollection),
		timeout:     defaultMongoOpTimeout,
	}
	if err := p.ensureIndexes(ctx); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *mongoPersister) ensureIndexes(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	if _, err := p.memories.Indexes().CreateMany(ctx, []mongodriver.IndexModel{
		{Keys: bson.D{{Key: "agent_id", Value: 1}}},
		{Keys: bson.D{{Key: "memory_type", Value: 1}}},
		{Keys: bson.D{{Key: "tags", Value: 1}}},
		{Keys: bson.D{{Key: "timestamp", Value: 1}}},
		{Keys: bson.D{{Key: "importance", Value: 1}}},
	}); err != nil {
		return err
	}
	if _, err := p.metrics.Indexes().CreateOne(ctx, mongodriver.IndexModel{
		Keys:    bson.D{{Key: "agent_id", Value: 1}, {Key: "task_type", Value: 1}},
		Options: options.Index().SetUnique(true),
	}); err != nil {
		return err
	}
	if _, err := p.preferences.Indexes().CreateOne(ctx, mongodriver.IndexModel{
		Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "preference_type", Value: 1}},
		Options: options.Index().SetUnique(true),
	}); err != nil {
		return err
	}
	return nil
}

func (p *mongoPersister) Close(ctx context.Context) error {
	return p.client.Disconnect(ctx)
}

type memoryDoc struct {
	ID           string         `bson:"_id"`
	Timestamp    time.Time      `bson:"timestamp"`
	AgentID      string         `bson:"agent_id"`
	MemoryType   string         `bson:"memory_type"`
	Content      map[string]any `bson:"content"`
	Importance   float64        `bson:"importance"`
	AccessCount  int            `bson:"access_count"`
	LastAccessed time.Time      `bson:"last_accessed"`
	Tags         []string       `bson:"tags"`
	Associations []string       `bson:"associations"`
}

func (p *mongoPersister) persistMemory(e *Entry) error {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	doc := memoryDoc{
		ID:           e.ID,
		Timestamp:    e.Timestamp,
		AgentID:      e.AgentID,
		MemoryType:   string(e.MemoryType),
		Content:      e.Content,
		Importance:   e.Importance,
		AccessCount:  e.AccessCount,
		LastAccessed: e.LastAccessed,
		Tags:         e.Tags,
		Associations: e.Associations,
	}
	_, err := p.memories.ReplaceOne(ctx, bson.M{"_id": e.ID}, doc, options.Replace().SetUpsert(true))
	return err
}

type metricsDoc struct {
	AgentID             string    `bson:"agent_id"`
	TaskType            string    `bson:"task_type"`
	SuccessRate         float64   `bson:"success_rate"`
	AverageResponseTime float64   `bson:"average_response_time"`
	ErrorRate           float64   `bson:"error_rate"`
	TotalTasks          int       `bson:"total_tasks"`
	SuccessfulTasks     int       `bson:"successful_tasks"`
	LastUpdated         time.Time `bson:"last_updated"`
}

func (p *mongoPersister) persistMetrics(m *Metrics) error {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	doc := metricsDoc{
		AgentID: m.AgentID, TaskType: m.TaskType,
		SuccessRate: m.SuccessRate, AverageResponseTime: m.AverageResponseTime,
		ErrorRate: m.ErrorRate, TotalTasks: m.TotalTasks,
		SuccessfulTasks: m.SuccessfulTasks, LastUpdated: m.LastUpdated,
	}
	filter := bson.M{"agent_id": m.AgentID, "task_type": m.TaskType}
	_, err := p.metrics.ReplaceOne(ctx, filter, doc, options.Replace().SetUpsert(true))
	return err
}

type preferenceDoc struct {
	UserID         string    `bson:"user_id"`
	PreferenceType string    `bson:"preference_type"`
	Value          any       `bson:"preference_value"`
	Confidence     float64   `bson:"confidence"`
	LearnedFrom    []string  `bson:"learned_from"`
	LastReinforced time.Time `bson:"last_reinforced"`
}

func (p *mongoPersister) persistPreference(pref *Preference) error {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	doc := preferenceDoc{
		UserID: pref.UserID, PreferenceType: pref.PreferenceType,
		Value: pref.Value, Confidence: pref.Confidence,
		LearnedFrom: pref.LearnedFrom, LastReinforced: pref.LastReinforced,
	}
	filter := bson.M{"user_id": pref.UserID, "preference_type": pref.PreferenceType}
	_, err := p.preferences.ReplaceOne(ctx, filter, doc, options.Replace().SetUpsert(true))
	return err
}

func (p *mongoPersister) conversationHistory(sessionID string, limit int) ([]ConversationTurn, error) {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	filter := bson.M{
		"tags":                bson.M{"$in": bson.A{"conversation", sessionID}},
		"content.kind":        "conversation_turn",
		"content.session_id":  sessionID,
	}
	opts := options.Find().SetSort(bson.D{{Key: "content.conversation_turn", Value: -1}}).SetLimit(int64(limit))
	cur, err := p.memories.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer func() { _ = cur.Close(ctx) }()

	var out []ConversationTurn
	for cur.Next(ctx) {
		var doc memoryDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, conversationTurnFromContent(doc.Content))
	}
	return out, cur.Err()
}

func (p *mongoPersister) recentConversations(userID string, cutoff time.Time, limit int) ([]ConversationTurn, error) {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	filter := bson.M{
		"tags":             bson.M{"$in": bson.A{"conversation", userID}},
		"content.kind":      "conversation_turn",
		"content.user_id":   userID,
		"timestamp":         bson.M{"$gte": cutoff},
	}
	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: -1}}).SetLimit(int64(limit))
	cur, err := p.memories.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer func() { _ = cur.Close(ctx) }()

	var out []ConversationTurn
	for cur.Next(ctx) {
		var doc memoryDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, conversationTurnFromContent(doc.Content))
	}
	return out, cur.Err()
}

// WithMongo attaches a connected persister to the store.
func (s *Store) WithMongo(p *mongoPersister) *Store {
	s.persist = p
	return s
}
