// Package mongo implements record.Store on MongoDB.
//
// Price records live in the price_entries collection, keyed by their
// record ID so a retried insert of the same record is detected as a
// duplicate instead of creating a second document. The caller owns the
// *mongo.Database lifecycle:
//
//	client, err := mongo.Connect(options.Client().ApplyURI(uri))
//	s := mongostore.New(client.Database("pricetrack"))
//	if err := s.Migrate(ctx); err != nil { ... }
package mongo
