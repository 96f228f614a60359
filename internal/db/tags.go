package db

import "context"

// SetVideoTags replaces nothing and deletes nothing: it ensures every tag
// exists and is linked to the video. Tag rows accumulate across runs.
func (q *Queries) SetVideoTags(ctx context.Context, videoID string, tags []string) error {
	for _, tag := range tags {
		if tag == "" {
			continue
		}
		var tagID int32
		err := q.db.QueryRow(ctx, `
			INSERT INTO tags (tag) VALUES ($1)
			ON CONFLICT (tag) DO UPDATE SET tag = EXCLUDED.tag
			RETURNING id`,
			tag).Scan(&tagID)
		if err != nil {
			return err
		}
		if _, err := q.db.Exec(ctx, `
			INSERT INTO videos_tags (video_id, tag_id)
			VALUES ($1, $2)
			ON CONFLICT DO NOTHING`,
			videoID, tagID); err != nil {
			return err
		}
	}
	return nil
}

// SetVideoTopics mirrors SetVideoTags for topic ids.
func (q *Queries) SetVideoTopics(ctx context.Context, videoID string, topics []string) error {
	for _, topic := range topics {
		if topic == "" {
			continue
		}
		var topicID int32
		err := q.db.QueryRow(ctx, `
			INSERT INTO topics (topic) VALUES ($1)
			ON CONFLICT (topic) DO UPDATE SET topic = EXCLUDED.topic
			RETURNING id`,
			topic).Scan(&topicID)
		if err != nil {
			return err
		}
		if _, err := q.db.Exec(ctx, `
			INSERT INTO videos_topics (video_id, topic_id)
			VALUES ($1, $2)
			ON CONFLICT DO NOTHING`,
			videoID, topicID); err != nil {
			return err
		}
	}
	return nil
}
