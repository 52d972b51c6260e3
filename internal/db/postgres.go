package db

import (
	"context"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/rawblock/txgraph-engine/internal/logger"
	"github.com/rawblock/txgraph-engine/pkg/models"
)

// PostgresStore reads the observer's schema. The observer owns the schema
// and all writes; this service only queries, so there is no migration or
// DDL path here.
type PostgresStore struct {
	pool *pgxpool.Pool
	log  zerolog.Logger
}

// Connect initializes the connection pool to PostgreSQL using pgx
func Connect(connStr string) (*PostgresStore, error) {
	pool, err := pgxpool.New(context.Background(), connStr)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %v", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("ping failed: %v", err)
	}

	log := logger.Component("db")
	log.Info().Msg("connected to PostgreSQL observer database")
	return &PostgresStore{pool: pool, log: log}, nil
}

// Close gracefully closes the connection pool
func (s *PostgresStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// txHashHex renders a stored tx_hash bytea in the conventional RPC display
// order. Malformed hashes fall back to raw hex rather than failing the row.
func txHashHex(raw []byte) string {
	h, err := chainhash.NewHash(raw)
	if err != nil {
		return fmt.Sprintf("%x", raw)
	}
	return h.String()
}

// FetchRecentFlows returns the most recently observed (input, output)
// flow pairings, denormalized across the input/output join. Inputs are
// resolved to addresses through the previous output they spend; coinbase
// inputs and unparseable scripts drop out via the NULL filters.
func (s *PostgresStore) FetchRecentFlows(ctx context.Context, limit int) ([]models.FlowRow, error) {
	query := `
		SELECT
			t.tx_hash,
			to_in.address AS input_address,
			to_in.value_satoshis AS input_value,
			to_out.address AS output_address,
			to_out.value_satoshis AS output_value,
			obs.first_seen_at
		FROM transactions t
		JOIN transaction_inputs ti ON t.tx_hash = ti.tx_hash
		JOIN transaction_outputs to_in
			ON ti.prev_tx_hash = to_in.tx_hash
		   AND ti.prev_output_idx = to_in.output_index
		JOIN transaction_outputs to_out ON t.tx_hash = to_out.tx_hash
		LEFT JOIN transaction_observations obs ON t.tx_hash = obs.tx_hash
		WHERE to_in.address IS NOT NULL
		  AND to_out.address IS NOT NULL
		ORDER BY obs.first_seen_at DESC
		LIMIT $1
	`
	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("flow query failed: %v", err)
	}
	defer rows.Close()

	flows := make([]models.FlowRow, 0, limit)
	for rows.Next() {
		var (
			raw  []byte
			flow models.FlowRow
		)
		if err := rows.Scan(&raw, &flow.InputAddress, &flow.InputValue,
			&flow.OutputAddress, &flow.OutputValue, &flow.FirstSeenAt); err != nil {
			return nil, fmt.Errorf("flow scan failed: %v", err)
		}
		flow.TxHash = txHashHex(raw)
		flows = append(flows, flow)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return flows, nil
}

// DoubleSpendInvolvement returns the flagged double-spend transactions
// that touch the given address, on either the receiving or spending side.
func (s *PostgresStore) DoubleSpendInvolvement(ctx context.Context, address string) (models.DoubleSpendEvidence, error) {
	query := `
		SELECT DISTINCT obs.tx_hash
		FROM transaction_observations obs
		JOIN transaction_outputs tout ON obs.tx_hash = tout.tx_hash
		WHERE obs.double_spend_flag = TRUE
		  AND tout.address = $1
		UNION
		SELECT DISTINCT obs.tx_hash
		FROM transaction_observations obs
		JOIN transaction_inputs tin ON obs.tx_hash = tin.tx_hash
		JOIN transaction_outputs prev_out
			ON tin.prev_tx_hash = prev_out.tx_hash
			AND tin.prev_output_idx = prev_out.output_index
		WHERE obs.double_spend_flag = TRUE
		  AND prev_out.address = $1
	`
	rows, err := s.pool.Query(ctx, query, address)
	if err != nil {
		return models.DoubleSpendEvidence{}, err
	}
	defer rows.Close()

	evidence := models.DoubleSpendEvidence{TxHashes: []string{}}
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return models.DoubleSpendEvidence{}, err
		}
		evidence.TxHashes = append(evidence.TxHashes, txHashHex(raw))
	}
	if rows.Err() != nil {
		return models.DoubleSpendEvidence{}, rows.Err()
	}
	evidence.Count = len(evidence.TxHashes)
	return evidence, nil
}

// FlaggedDoubleSpendAddresses returns every address touched by any
// flagged double-spend observation. Used to seed the high-risk sweep.
func (s *PostgresStore) FlaggedDoubleSpendAddresses(ctx context.Context) ([]string, error) {
	query := `
		SELECT DISTINCT address FROM (
			SELECT tout.address
			FROM transaction_observations obs
			JOIN transaction_outputs tout ON obs.tx_hash = tout.tx_hash
			WHERE obs.double_spend_flag = TRUE AND tout.address IS NOT NULL
			UNION
			SELECT prev_out.address
			FROM transaction_observations obs
			JOIN transaction_inputs tin ON obs.tx_hash = tin.tx_hash
			JOIN transaction_outputs prev_out
				ON tin.prev_tx_hash = prev_out.tx_hash
				AND tin.prev_output_idx = prev_out.output_index
			WHERE obs.double_spend_flag = TRUE AND prev_out.address IS NOT NULL
		) ds_addrs
	`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	addresses := make([]string, 0)
	for rows.Next() {
		var addr string
		if err := rows.Scan(&addr); err != nil {
			return nil, err
		}
		addresses = append(addresses, addr)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return addresses, nil
}

type CountryRanking struct {
	CountryCode    string `json:"countryCode"`
	Region         string `json:"region"`
	FirstSeenCount int    `json:"firstSeenCount"`
	PeerCount      int    `json:"peerCount"`
}

// CountryRankings ranks countries by the number of transactions their
// peers were the first to relay.
func (s *PostgresStore) CountryRankings(ctx context.Context) ([]CountryRanking, error) {
	query := `
		SELECT
			pc.country_code,
			pc.region,
			COUNT(DISTINCT obs.tx_hash) as first_seen_count,
			COUNT(DISTINCT pc.peer_addr) as peer_count
		FROM peer_connections pc
		JOIN transaction_observations obs ON pc.peer_addr = obs.first_peer_addr
		WHERE pc.country_code IS NOT NULL
		GROUP BY pc.country_code, pc.region
		ORDER BY first_seen_count DESC
		LIMIT 20
	`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	rankings := make([]CountryRanking, 0)
	for rows.Next() {
		var (
			r      CountryRanking
			region *string
		)
		if err := rows.Scan(&r.CountryCode, &region, &r.FirstSeenCount, &r.PeerCount); err != nil {
			return nil, err
		}
		if region != nil {
			r.Region = *region
		}
		rankings = append(rankings, r)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return rankings, nil
}

type RegionPropagation struct {
	Region           string  `json:"region"`
	ObservationCount int     `json:"observationCount"`
	AvgDelayMs       float64 `json:"avgDelayMs"`
	MinDelayMs       int64   `json:"minDelayMs"`
	MaxDelayMs       int64   `json:"maxDelayMs"`
}

// PropagationStats aggregates announcement delays per region.
func (s *PostgresStore) PropagationStats(ctx context.Context) ([]RegionPropagation, error) {
	query := `
		SELECT
			pc.region,
			COUNT(*) as observation_count,
			AVG(pe.delay_from_first_ms) as avg_delay_ms,
			MIN(pe.delay_from_first_ms) as min_delay_ms,
			MAX(pe.delay_from_first_ms) as max_delay_ms
		FROM propagation_events pe
		JOIN peer_connections pc ON pe.peer_addr = pc.peer_addr
		WHERE pc.region IS NOT NULL
		GROUP BY pc.region
		ORDER BY observation_count DESC
	`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := make([]RegionPropagation, 0)
	for rows.Next() {
		var (
			r        RegionPropagation
			avgDelay *float64
		)
		if err := rows.Scan(&r.Region, &r.ObservationCount, &avgDelay, &r.MinDelayMs, &r.MaxDelayMs); err != nil {
			return nil, err
		}
		if avgDelay != nil {
			r.AvgDelayMs = *avgDelay
		}
		stats = append(stats, r)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return stats, nil
}

type GeoActivity struct {
	CountryCode string  `json:"countryCode"`
	Lat         float64 `json:"lat"`
	Lng         float64 `json:"lng"`
	TxCount     int     `json:"txCount"`
}

// GeoActivityLastHour returns first-seen transaction counts per peer
// location over the trailing hour, for the world map view.
func (s *PostgresStore) GeoActivityLastHour(ctx context.Context) ([]GeoActivity, error) {
	query := `
		SELECT
			pc.country_code,
			pc.latitude,
			pc.longitude,
			COUNT(DISTINCT obs.tx_hash) as tx_count
		FROM transaction_observations obs
		JOIN peer_connections pc ON obs.first_peer_addr = pc.peer_addr
		WHERE pc.country_code IS NOT NULL
		  AND pc.latitude IS NOT NULL
		  AND pc.longitude IS NOT NULL
		  AND obs.first_seen_at > NOW() - INTERVAL '1 hour'
		GROUP BY pc.country_code, pc.latitude, pc.longitude
		ORDER BY tx_count DESC
	`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	activity := make([]GeoActivity, 0)
	for rows.Next() {
		var a GeoActivity
		if err := rows.Scan(&a.CountryCode, &a.Lat, &a.Lng, &a.TxCount); err != nil {
			return nil, err
		}
		activity = append(activity, a)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return activity, nil
}

type PeerLocation struct {
	CountryCode string  `json:"countryCode"`
	Lat         float64 `json:"lat"`
	Lng         float64 `json:"lng"`
	City        string  `json:"city"`
	PeerCount   int     `json:"peerCount"`
	Active      bool    `json:"active"`
}

// PeerLocations returns one entry per distinct peer location, with the
// number of peers seen there and whether any are still connected.
func (s *PostgresStore) PeerLocations(ctx context.Context) ([]PeerLocation, error) {
	query := `
		SELECT
			pc.country_code,
			pc.latitude,
			pc.longitude,
			pc.city,
			COUNT(*) as peer_count,
			SUM(CASE WHEN pc.disconnected_at IS NULL THEN 1 ELSE 0 END) as active_count
		FROM peer_connections pc
		WHERE pc.latitude IS NOT NULL
		  AND pc.longitude IS NOT NULL
		GROUP BY pc.country_code, pc.latitude, pc.longitude, pc.city
	`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	peers := make([]PeerLocation, 0)
	for rows.Next() {
		var (
			p           PeerLocation
			country     *string
			city        *string
			activeCount int
		)
		if err := rows.Scan(&country, &p.Lat, &p.Lng, &city, &p.PeerCount, &activeCount); err != nil {
			return nil, err
		}
		if country != nil {
			p.CountryCode = *country
		}
		if city != nil {
			p.City = *city
		}
		p.Active = activeCount > 0
		peers = append(peers, p)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return peers, nil
}
