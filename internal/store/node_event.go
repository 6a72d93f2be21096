package store

// WriteNodeEvent appends one row to the node_event log and returns its
// assigned event_id.
func (s *Store) WriteNodeEvent(e NodeEvent) (int64, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	res, err := s.db.Exec(
		`INSERT INTO node_event (node_uuid, timestamp, event_type, details) VALUES (?, ?, ?, ?)`,
		e.NodeUUID, e.Timestamp, string(e.EventType), e.Details,
	)
	if err != nil {
		return 0, wrapStoreErr("write node_event", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, wrapStoreErr("write node_event: last insert id", err)
	}
	return id, nil
}

// NodeEventFilter parameterizes GetNodeEvents.
type NodeEventFilter struct {
	NodeUUID  *string
	EventType *NodeEventType
	TimeFrom  *int64
	TimeTo    *int64
	Limit     *int
}

// GetNodeEvents returns events matching filter, most recent first.
func (s *Store) GetNodeEvents(filter NodeEventFilter) ([]NodeEvent, error) {
	query := "SELECT event_id, node_uuid, timestamp, event_type, details FROM node_event"
	var args []any
	var clauses []string

	if filter.NodeUUID != nil {
		clauses = append(clauses, "node_uuid = ?")
		args = append(args, *filter.NodeUUID)
	}
	if filter.EventType != nil {
		clauses = append(clauses, "event_type = ?")
		args = append(args, string(*filter.EventType))
	}
	if filter.TimeFrom != nil {
		clauses = append(clauses, "timestamp >= ?")
		args = append(args, *filter.TimeFrom)
	}
	if filter.TimeTo != nil {
		clauses = append(clauses, "timestamp <= ?")
		args = append(args, *filter.TimeTo)
	}
	for i, c := range clauses {
		if i == 0 {
			query += " WHERE "
		} else {
			query += " AND "
		}
		query += c
	}
	query += " ORDER BY event_id DESC"
	if filter.Limit != nil {
		query += " LIMIT ?"
		args = append(args, *filter.Limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, wrapStoreErr("get node events", err)
	}
	defer rows.Close()

	var out []NodeEvent
	for rows.Next() {
		var e NodeEvent
		var eventType string
		if err := rows.Scan(&e.EventID, &e.NodeUUID, &e.Timestamp, &eventType, &e.Details); err != nil {
			return nil, wrapStoreErr("scan node event", err)
		}
		e.EventType = NodeEventType(eventType)
		out = append(out, e)
	}
	return out, wrapStoreErr("iterate node events", rows.Err())
}
