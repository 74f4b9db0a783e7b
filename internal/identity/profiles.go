package identity

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/imrishuroy/storefront-orderflow/internal/aws"
)

// Profile is the record stored in the users table, keyed by identity uid.
type Profile struct {
	UID       string    `dynamodbav:"uid" json:"uid"` // PK
	Role      Role      `dynamodbav:"role" json:"role"`
	Name      string    `dynamodbav:"name,omitempty" json:"name,omitempty"`
	Email     string    `dynamodbav:"email,omitempty" json:"email,omitempty"`
	Address   string    `dynamodbav:"address,omitempty" json:"address,omitempty"`
	Phone     string    `dynamodbav:"phone,omitempty" json:"phone,omitempty"`
	CreatedAt time.Time `dynamodbav:"created_at" json:"created_at"`
}

// ErrProfileNotFound is returned by admin updates and deletes of unknown uids.
var ErrProfileNotFound = errors.New("profile not found")

// ProfileUpdate lists the fields to change; nil fields are left alone.
type ProfileUpdate struct {
	Name    *string
	Email   *string
	Address *string
	Phone   *string
	Role    *Role
}

// ProfileStore reads and writes user profiles.
type ProfileStore struct {
	client    aws.DynamoDBAPI
	tableName string
	nowFunc   func() time.Time
}

func NewProfileStore(client aws.DynamoDBAPI, tableName string) *ProfileStore {
	return &ProfileStore{
		client:    client,
		tableName: tableName,
		nowFunc:   time.Now,
	}
}

// Get fetches a profile by uid. Returns (nil, nil) if not found.
func (s *ProfileStore) Get(ctx context.Context, uid string) (*Profile, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.tableName,
		Key:       profileKey(uid),
	})
	if err != nil {
		return nil, fmt.Errorf("get profile: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var p Profile
	if err := attributevalue.UnmarshalMap(out.Item, &p); err != nil {
		return nil, fmt.Errorf("unmarshal profile: %w", err)
	}
	return &p, nil
}

// Put creates or replaces a profile.
func (s *ProfileStore) Put(ctx context.Context, p Profile) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = s.nowFunc().UTC()
	}
	item, err := attributevalue.MarshalMap(p)
	if err != nil {
		return fmt.Errorf("marshal profile: %w", err)
	}
	if _, err := s.client.PutItem(ctx, &dyn.PutItemInput{TableName: &s.tableName, Item: item}); err != nil {
		return fmt.Errorf("put profile: %w", err)
	}
	return nil
}

// UpdateOwn applies u to the caller's own profile, creating the record when
// it does not exist yet. The role cannot be changed this way.
func (s *ProfileStore) UpdateOwn(ctx context.Context, id Identity, u ProfileUpdate) (*Profile, error) {
	if !id.Authenticated() {
		return nil, ErrUnauthenticated
	}
	u.Role = nil
	in, err := s.updateInput(id.UID, u)
	if err != nil {
		return nil, err
	}
	in.UpdateExpression = sdkaws.String(*in.UpdateExpression + ", #role = if_not_exists(#role, :customer)")
	in.ExpressionAttributeNames["#role"] = "role"
	in.ExpressionAttributeValues[":customer"] = &types.AttributeValueMemberS{Value: string(RoleCustomer)}
	return s.update(ctx, in)
}

// Update applies u to an existing profile.
func (s *ProfileStore) Update(ctx context.Context, uid string, u ProfileUpdate) (*Profile, error) {
	in, err := s.updateInput(uid, u)
	if err != nil {
		return nil, err
	}
	in.ConditionExpression = sdkaws.String("attribute_exists(uid)")
	return s.update(ctx, in)
}

// Delete removes a profile. The user falls back to the customer role.
func (s *ProfileStore) Delete(ctx context.Context, uid string) error {
	_, err := s.client.DeleteItem(ctx, &dyn.DeleteItemInput{
		TableName:           &s.tableName,
		Key:                 profileKey(uid),
		ConditionExpression: sdkaws.String("attribute_exists(uid)"),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return ErrProfileNotFound
		}
		return fmt.Errorf("delete profile: %w", err)
	}
	return nil
}

// List returns every profile, newest first.
func (s *ProfileStore) List(ctx context.Context) ([]Profile, error) {
	p := dyn.NewScanPaginator(s.client, &dyn.ScanInput{TableName: &s.tableName})
	list := []Profile{}
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("scan profiles: %w", err)
		}
		var batch []Profile
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &batch); err != nil {
			return nil, fmt.Errorf("unmarshal profiles: %w", err)
		}
		list = append(list, batch...)
	}
	sort.SliceStable(list, func(i, j int) bool { return list[i].CreatedAt.After(list[j].CreatedAt) })
	return list, nil
}

func (s *ProfileStore) updateInput(uid string, u ProfileUpdate) (*dyn.UpdateItemInput, error) {
	now, err := attributevalue.Marshal(s.nowFunc().UTC())
	if err != nil {
		return nil, fmt.Errorf("marshal timestamp: %w", err)
	}
	// names go through placeholders: name and role are reserved words
	expr := "SET #created_at = if_not_exists(#created_at, :now)"
	names := map[string]string{"#created_at": "created_at"}
	values := map[string]types.AttributeValue{":now": now}
	set := func(attr, value string) {
		expr += fmt.Sprintf(", #%s = :%s", attr, attr)
		names["#"+attr] = attr
		values[":"+attr] = &types.AttributeValueMemberS{Value: value}
	}
	if u.Name != nil {
		set("name", *u.Name)
	}
	if u.Email != nil {
		set("email", *u.Email)
	}
	if u.Address != nil {
		set("address", *u.Address)
	}
	if u.Phone != nil {
		set("phone", *u.Phone)
	}
	if u.Role != nil {
		set("role", string(*u.Role))
	}
	return &dyn.UpdateItemInput{
		TableName:                 &s.tableName,
		Key:                       profileKey(uid),
		UpdateExpression:          sdkaws.String(expr),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
		ReturnValues:              types.ReturnValueAllNew,
	}, nil
}

func (s *ProfileStore) update(ctx context.Context, in *dyn.UpdateItemInput) (*Profile, error) {
	out, err := s.client.UpdateItem(ctx, in)
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return nil, ErrProfileNotFound
		}
		return nil, fmt.Errorf("update profile: %w", err)
	}
	var p Profile
	if err := attributevalue.UnmarshalMap(out.Attributes, &p); err != nil {
		return nil, fmt.Errorf("unmarshal profile: %w", err)
	}
	return &p, nil
}

func profileKey(uid string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"uid": &types.AttributeValueMemberS{Value: uid},
	}
}
