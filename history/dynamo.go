// Package history archives finished matches to DynamoDB and keeps aggregate
// player stats for the leaderboard. Live match state never touches this
// package; only final results do.
package history

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/clickbattle-gg/backend/game"
	"github.com/clickbattle-gg/backend/store"
)

// MatchRecord is one roster member's view of a finished match.
type MatchRecord struct {
	RoomID     string `dynamodbav:"RoomID" json:"roomId"`
	UserID     string `dynamodbav:"UserID" json:"userId"` // partition key for PlayerHistoryIndex
	FinishedAt int64  `dynamodbav:"FinishedAt" json:"finishedAt"`
	Name       string `dynamodbav:"Name" json:"name"`
	Team       string `dynamodbav:"Team" json:"team"`
	ScoreA     int64  `dynamodbav:"ScoreA" json:"scoreA"`
	ScoreB     int64  `dynamodbav:"ScoreB" json:"scoreB"`
	Winner     string `dynamodbav:"Winner" json:"winner"`
	Won        bool   `dynamodbav:"Won" json:"won"`
}

// PlayerStats is the aggregate row behind the leaderboard.
type PlayerStats struct {
	UserID string `dynamodbav:"UserID" json:"userId"`
	Name   string `dynamodbav:"Name" json:"name"`
	Wins   int64  `dynamodbav:"Wins" json:"wins"`
	Played int64  `dynamodbav:"Played" json:"played"`
}

// dynamoAPI is the slice of the DynamoDB client this package uses. Tests
// substitute a fake.
type dynamoAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// Dynamo implements game.Archiver.
type Dynamo struct {
	svc          dynamoAPI
	matchesTable string
	statsTable   string
	log          *slog.Logger
}

var _ game.Archiver = (*Dynamo)(nil)

// NewDynamo loads the default AWS config and targets the given tables.
func NewDynamo(ctx context.Context, region, matchesTable, statsTable string, log *slog.Logger) (*Dynamo, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &Dynamo{
		svc:          dynamodb.NewFromConfig(cfg),
		matchesTable: matchesTable,
		statsTable:   statsTable,
		log:          log.With(slog.String("component", "history")),
	}, nil
}

// ArchiveMatch writes one record per roster member and bumps their aggregate
// stats. Failures are reported but a partial write is not rolled back; the
// archive is best-effort by design.
func (d *Dynamo) ArchiveMatch(ctx context.Context, res game.MatchResult) error {
	var firstErr error
	for _, p := range res.Players {
		rec := MatchRecord{
			RoomID:     res.RoomID,
			UserID:     p.UserID,
			FinishedAt: res.FinishedAt,
			Name:       p.Name,
			Team:       p.Team,
			ScoreA:     res.Scores.A,
			ScoreB:     res.Scores.B,
			Winner:     res.Winner,
			Won:        p.Team == res.Winner,
		}
		if err := d.putMatch(ctx, rec); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := d.bumpStats(ctx, p, rec.Won); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if firstErr == nil {
		d.log.Info("match archived",
			slog.String("roomId", res.RoomID),
			slog.String("winner", res.Winner),
			slog.Int("players", len(res.Players)))
	}
	return firstErr
}

func (d *Dynamo) putMatch(ctx context.Context, rec MatchRecord) error {
	av, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return err
	}
	_, err = d.svc.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(d.matchesTable),
		Item:      av,
	})
	if err != nil {
		return fmt.Errorf("put match %s/%s: %w", rec.RoomID, rec.UserID, err)
	}
	return nil
}

func (d *Dynamo) bumpStats(ctx context.Context, p store.Player, won bool) error {
	win := "0"
	if won {
		win = "1"
	}
	_, err := d.svc.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(d.statsTable),
		Key: map[string]types.AttributeValue{
			"UserID": &types.AttributeValueMemberS{Value: p.UserID},
		},
		UpdateExpression: aws.String(
			"set Played = if_not_exists(Played, :zero) + :one, " +
				"Wins = if_not_exists(Wins, :zero) + :win, #N = :name"),
		ExpressionAttributeNames: map[string]string{
			"#N": "Name", // reserved word
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":zero": &types.AttributeValueMemberN{Value: "0"},
			":one":  &types.AttributeValueMemberN{Value: "1"},
			":win":  &types.AttributeValueMemberN{Value: win},
			":name": &types.AttributeValueMemberS{Value: p.Name},
		},
	})
	if err != nil {
		return fmt.Errorf("bump stats %s: %w", p.UserID, err)
	}
	return nil
}

// TopPlayers scans the stats table and returns the best players by wins.
// Full scan plus sort; fine for the sizes this game sees.
func (d *Dynamo) TopPlayers(ctx context.Context, limit int) ([]PlayerStats, error) {
	out, err := d.svc.Scan(ctx, &dynamodb.ScanInput{
		TableName: aws.String(d.statsTable),
	})
	if err != nil {
		return nil, fmt.Errorf("scan stats: %w", err)
	}

	var stats []PlayerStats
	if err := attributevalue.UnmarshalListOfMaps(out.Items, &stats); err != nil {
		return nil, fmt.Errorf("decode stats: %w", err)
	}

	sort.Slice(stats, func(i, j int) bool {
		if stats[i].Wins != stats[j].Wins {
			return stats[i].Wins > stats[j].Wins
		}
		return stats[i].Played > stats[j].Played
	})
	if len(stats) > limit {
		stats = stats[:limit]
	}
	return stats, nil
}

// MatchHistory returns a player's recent matches through the
// PlayerHistoryIndex GSI, newest first.
func (d *Dynamo) MatchHistory(ctx context.Context, userID string, limit int32) ([]MatchRecord, error) {
	out, err := d.svc.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(d.matchesTable),
		IndexName:              aws.String("PlayerHistoryIndex"),
		KeyConditionExpression: aws.String("UserID = :uid"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":uid": &types.AttributeValueMemberS{Value: userID},
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(limit),
	})
	if err != nil {
		return nil, fmt.Errorf("query history %s: %w", userID, err)
	}

	var records []MatchRecord
	if err := attributevalue.UnmarshalListOfMaps(out.Items, &records); err != nil {
		return nil, fmt.Errorf("decode history: %w", err)
	}
	return records, nil
}
