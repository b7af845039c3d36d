// Package mongo connects to MongoDB using environment-driven Config and
// exposes a ping-based health check. Collections and indexes are owned by the
// stores that use them, see subscription.MongoStore and audit.MongoStorage.
//
//	db, err := mongo.Open(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	store := subscription.NewMongoStore(db)
package mongo
