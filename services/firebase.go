package services

import (
	"context"
	"os"

	"cloud.google.com/go/firestore"
	firebase "firebase.google.com/go/v4"
	"github.com/google/uuid"
	"google.golang.org/api/option"

	"github.com/ann82/havenline/models"
)

// FirestoreClient archives finished-call records. The core keeps no durable
// state of its own; archival is fire-and-forget observation.
type FirestoreClient struct {
	client     *firestore.Client
	collection string
}

// NewFirestoreClient initializes Firestore. Credentials come from
// FIREBASE_CREDENTIALS_JSON, FIREBASE_CREDENTIALS_FILE, or application
// default credentials, in that order.
func NewFirestoreClient(ctx context.Context) (*FirestoreClient, error) {
	var (
		app *firebase.App
		err error
	)
	if credJSON := os.Getenv("FIREBASE_CREDENTIALS_JSON"); credJSON != "" {
		app, err = firebase.NewApp(ctx, nil, option.WithCredentialsJSON([]byte(credJSON)))
	} else if credFile := os.Getenv("FIREBASE_CREDENTIALS_FILE"); credFile != "" {
		app, err = firebase.NewApp(ctx, nil, option.WithCredentialsFile(credFile))
	} else {
		app, err = firebase.NewApp(ctx, nil)
	}
	if err != nil {
		return nil, err
	}

	client, err := app.Firestore(ctx)
	if err != nil {
		return nil, err
	}

	collection := os.Getenv("FIRESTORE_CALLS_COLLECTION")
	if collection == "" {
		collection = "call_records"
	}
	return &FirestoreClient{client: client, collection: collection}, nil
}

// SaveCallRecord writes one record and returns its document id.
func (fc *FirestoreClient) SaveCallRecord(ctx context.Context, rec models.CallRecord) (string, error) {
	docID := rec.CallID
	if docID == "" {
		docID = uuid.New().String()
	}
	_, err := fc.client.Collection(fc.collection).Doc(docID).Set(ctx, rec)
	return docID, err
}

// Close releases the underlying Firestore client.
func (fc *FirestoreClient) Close() error {
	return fc.client.Close()
}
