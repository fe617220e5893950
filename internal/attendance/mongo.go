package attendance

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoRepository persists attendance data in MongoDB collections.
type MongoRepository struct {
	users      *mongo.Collection
	classes    *mongo.Collection
	attendance *mongo.Collection
	audit      *mongo.Collection
}

// NewMongoRepository binds the repository to db.
func NewMongoRepository(db *mongo.Database) *MongoRepository {
	return &MongoRepository{
		users:      db.Collection("users"),
		classes:    db.Collection("classes"),
		attendance: db.Collection("attendance"),
		audit:      db.Collection("audit"),
	}
}

var _ Store = (*MongoRepository)(nil)

// EnsureIndexes creates the unique keys the store relies on.
func (m *MongoRepository) EnsureIndexes(ctx context.Context) error {
	unique := options.Index().SetUnique(true)
	if _, err := m.users.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "email", Value: 1}}, Options: unique,
	}); err != nil {
		return err
	}
	if _, err := m.classes.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "code", Value: 1}}, Options: unique},
		{Keys: bson.D{{Key: "active_code", Value: 1}, {Key: "code_expires", Value: -1}}},
		{Keys: bson.D{{Key: "teacher_id", Value: 1}}},
	}); err != nil {
		return err
	}
	_, err := m.attendance.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "student_id", Value: 1}, {Key: "class_id", Value: 1}, {Key: "day", Value: 1}}, Options: unique},
		{Keys: bson.D{{Key: "teacher_id", Value: 1}, {Key: "day", Value: 1}}},
	})
	return err
}

func (m *MongoRepository) CreateUser(ctx context.Context, u User) (User, error) {
	_, err := m.users.InsertOne(ctx, u)
	if mongo.IsDuplicateKeyError(err) {
		return User{}, ErrEmailTaken
	}
	if err != nil {
		return User{}, err
	}
	return u, nil
}

func (m *MongoRepository) UserByID(ctx context.Context, id string) (User, error) {
	var u User
	err := m.users.FindOne(ctx, bson.M{"_id": id}).Decode(&u)
	return u, noDocuments(err)
}

func (m *MongoRepository) UserByEmail(ctx context.Context, email string) (User, error) {
	var u User
	err := m.users.FindOne(ctx, bson.M{"email": email}).Decode(&u)
	return u, noDocuments(err)
}

func (m *MongoRepository) UsersByIDs(ctx context.Context, ids []string) ([]User, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	cur, err := m.users.Find(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return nil, err
	}
	var out []User
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (m *MongoRepository) CreateClass(ctx context.Context, c Class) (Class, error) {
	if c.Students == nil {
		c.Students = []string{}
	}
	_, err := m.classes.InsertOne(ctx, c)
	if mongo.IsDuplicateKeyError(err) {
		return Class{}, ErrClassCodeTaken
	}
	if err != nil {
		return Class{}, err
	}
	return c, nil
}

func (m *MongoRepository) ClassByID(ctx context.Context, id string) (Class, error) {
	return m.oneClass(ctx, bson.M{"_id": id}, nil)
}

func (m *MongoRepository) ClassByCode(ctx context.Context, code string) (Class, error) {
	return m.oneClass(ctx, bson.M{"code": code}, nil)
}

func (m *MongoRepository) ClassByActiveCode(ctx context.Context, code string, now time.Time) (Class, error) {
	return m.oneClass(ctx,
		bson.M{"active_code": code, "code_expires": bson.M{"$gt": now}},
		options.FindOne().SetSort(bson.D{{Key: "code_expires", Value: -1}}),
	)
}

func (m *MongoRepository) ClassesByTeacher(ctx context.Context, teacherID string) ([]Class, error) {
	return m.manyClasses(ctx, bson.M{"teacher_id": teacherID})
}

func (m *MongoRepository) ClassesByStudent(ctx context.Context, studentID string) ([]Class, error) {
	return m.manyClasses(ctx, bson.M{"students": studentID})
}

func (m *MongoRepository) EnrollStudent(ctx context.Context, classID, studentID string) error {
	res, err := m.classes.UpdateOne(ctx,
		bson.M{"_id": classID},
		bson.M{"$addToSet": bson.M{"students": studentID}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// SetActiveCode swaps the grant atomically and returns the document as it was before.
func (m *MongoRepository) SetActiveCode(ctx context.Context, classID, teacherID string, g Grant) (Grant, error) {
	var prev Class
	err := m.classes.FindOneAndUpdate(ctx,
		bson.M{"_id": classID, "teacher_id": teacherID},
		bson.M{"$set": bson.M{"active_code": g.Code, "code_expires": g.ExpiresAt}},
		options.FindOneAndUpdate().SetReturnDocument(options.Before),
	).Decode(&prev)
	if err != nil {
		return Grant{}, noDocuments(err)
	}
	return prev.Grant(), nil
}

func (m *MongoRepository) InsertRecord(ctx context.Context, r Record) (Record, error) {
	_, err := m.attendance.InsertOne(ctx, r)
	if mongo.IsDuplicateKeyError(err) {
		return Record{}, ErrDuplicateSubmission
	}
	if err != nil {
		return Record{}, err
	}
	return r, nil
}

func (m *MongoRepository) CountRecords(ctx context.Context, studentID, classID string) (int, error) {
	n, err := m.attendance.CountDocuments(ctx, bson.M{"student_id": studentID, "class_id": classID})
	return int(n), err
}

func (m *MongoRepository) RecordsForStudent(ctx context.Context, studentID, classID string) ([]Record, error) {
	return m.records(ctx,
		bson.M{"student_id": studentID, "class_id": classID},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}),
	)
}

func (m *MongoRepository) RecordsForDay(ctx context.Context, teacherID, classID, day string) ([]Record, error) {
	filter := bson.M{"teacher_id": teacherID, "day": day}
	if classID != "" {
		filter["class_id"] = classID
	}
	return m.records(ctx, filter, options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}))
}

func (m *MongoRepository) AppendAudit(ctx context.Context, e AuditEntry) error {
	_, err := m.audit.InsertOne(ctx, e)
	return err
}

func (m *MongoRepository) oneClass(ctx context.Context, filter bson.M, opts *options.FindOneOptions) (Class, error) {
	var c Class
	var findOpts []*options.FindOneOptions
	if opts != nil {
		findOpts = append(findOpts, opts)
	}
	if err := m.classes.FindOne(ctx, filter, findOpts...).Decode(&c); err != nil {
		return Class{}, noDocuments(err)
	}
	if c.Students == nil {
		c.Students = []string{}
	}
	return c, nil
}

func (m *MongoRepository) manyClasses(ctx context.Context, filter bson.M) ([]Class, error) {
	cur, err := m.classes.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}))
	if err != nil {
		return nil, err
	}
	var out []Class
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (m *MongoRepository) records(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]Record, error) {
	cur, err := m.attendance.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	var out []Record
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func noDocuments(err error) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return ErrNotFound
	}
	return err
}
