package database

import (
	"database/sql"
	"fmt"
	"time"
)

const addMemberQuery = "INSERT INTO members (game_id, account_id, team, created_at) " +
	"VALUES ($1, $2, $3, $4) RETURNING id, game_id, account_id, team"

func (db *PgRepository) CreateAccount(params CreateAccountParams) (User, error) {
	res := db.conn.QueryRow(
		"INSERT INTO accounts (username, email, password_hash, created_at, updated_at) "+
			"VALUES ($1, $2, $3, $4, $4) RETURNING id, username, email, created_at, updated_at",
		params.Username,
		params.EmailAddress,
		params.PasswordHash,
		time.Now().UTC(),
	)

	var u User
	err := res.Scan(
		&u.Id,
		&u.Username,
		&u.EmailAddress,
		&u.CreatedAt,
		&u.UpdatedAt,
	)

	return u, err
}

func (db *PgRepository) GetAccountById(id int) (User, error) {
	row := db.conn.QueryRow(
		"SELECT id, username, email, created_at, updated_at FROM accounts "+
			"WHERE id = $1 LIMIT 1",
		id,
	)

	var user User
	err := row.Scan(
		&user.Id,
		&user.Username,
		&user.EmailAddress,
		&user.CreatedAt,
		&user.UpdatedAt,
	)

	return user, err
}

func (db *PgRepository) GetAccountByUsername(username string) (User, error) {
	row := db.conn.QueryRow(
		"SELECT id, username, email, password_hash, created_at, updated_at FROM accounts "+
			"WHERE username = $1 LIMIT 1",
		username,
	)

	var user User
	err := row.Scan(
		&user.Id,
		&user.Username,
		&user.EmailAddress,
		&user.PasswordHash,
		&user.CreatedAt,
		&user.UpdatedAt,
	)

	return user, err
}

// CreateGame inserts the game and its owner's membership in one
// transaction so a game never exists without its first member.
func (db *PgRepository) CreateGame(params CreateGameParams) (Game, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return Game{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	res := tx.QueryRow(
		"INSERT INTO games (game_type, state, join_code, owner_id, created_at, updated_at) "+
			"VALUES ($1, $2, $3, $4, $5, $5) RETURNING id, game_type, state, join_code, owner_id, created_at, updated_at",
		params.GameType,
		"CREATED",
		params.JoinCode,
		params.OwnerId,
		time.Now().UTC(),
	)

	var game Game
	err = res.Scan(
		&game.Id,
		&game.GameType,
		&game.State,
		&game.JoinCode,
		&game.OwnerId,
		&game.CreatedAt,
		&game.UpdatedAt,
	)
	if err != nil {
		return Game{}, err
	}

	_, err = tx.Exec(
		addMemberQuery,
		game.Id,
		params.OwnerId,
		"RED",
		time.Now().UTC(),
	)
	if err != nil {
		return Game{}, err
	}

	if err = tx.Commit(); err != nil {
		return Game{}, err
	}

	return game, err
}

func (db *PgRepository) GetGameById(gameId int64) (Game, error) {
	row := db.conn.QueryRow(
		"SELECT id, game_type, state, join_code, owner_id, created_at, updated_at FROM games "+
			"WHERE id = $1 LIMIT 1",
		gameId,
	)

	var game Game
	err := row.Scan(
		&game.Id,
		&game.GameType,
		&game.State,
		&game.JoinCode,
		&game.OwnerId,
		&game.CreatedAt,
		&game.UpdatedAt,
	)

	return game, err
}

func (db *PgRepository) GetGameWithMembers(gameId int64) (*Game, error) {
	query := `
		SELECT
				g.id AS game_id,
				g.game_type,
				g.state,
				g.join_code,
				g.owner_id,
				g.created_at AS game_created_at,
				g.updated_at AS game_updated_at,
				m.id,
				m.account_id,
				a.username,
				m.team,
				m.created_at AS member_created_at
		FROM games g
		LEFT JOIN members m ON g.id = m.game_id
		LEFT JOIN accounts a ON m.account_id = a.id
		WHERE g.id = $1
		ORDER BY m.created_at;
`

	rows, err := db.conn.Query(query, gameId)
	if err != nil {
		return nil, fmt.Errorf("fetch game with members: %w", err)
	}
	defer rows.Close()

	var game *Game
	for rows.Next() {
		var (
			id              int64
			gameType        string
			state           string
			joinCode        string
			ownerId         int
			gameCreatedAt   time.Time
			gameUpdatedAt   time.Time
			memberId        sql.NullInt64
			accountId       sql.NullInt64
			username        sql.NullString
			team            sql.NullString
			memberCreatedAt sql.NullTime
		)

		err := rows.Scan(
			&id,
			&gameType,
			&state,
			&joinCode,
			&ownerId,
			&gameCreatedAt,
			&gameUpdatedAt,
			&memberId,
			&accountId,
			&username,
			&team,
			&memberCreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}

		if game == nil {
			game = &Game{
				Id:        id,
				GameType:  gameType,
				State:     state,
				JoinCode:  joinCode,
				OwnerId:   ownerId,
				CreatedAt: gameCreatedAt,
				UpdatedAt: gameUpdatedAt,
				Members:   make([]Member, 0),
			}
		}

		if accountId.Valid && username.Valid {
			game.Members = append(game.Members, Member{
				Id:        int(memberId.Int64),
				GameId:    id,
				AccountId: int(accountId.Int64),
				Username:  username.String,
				Team:      team.String,
				CreatedAt: memberCreatedAt.Time,
			})
		}
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	if game == nil {
		return nil, sql.ErrNoRows
	}

	return game, nil
}

func (db *PgRepository) AddMember(params AddMemberParams) (Member, error) {
	res := db.conn.QueryRow(
		addMemberQuery,
		params.GameId,
		params.AccountId,
		params.Team,
		time.Now().UTC(),
	)

	var member Member
	err := res.Scan(
		&member.Id,
		&member.GameId,
		&member.AccountId,
		&member.Team,
	)

	return member, err
}

func (db *PgRepository) UpdateGameState(gameId int64, state string) error {
	_, err := db.conn.Exec(
		"UPDATE games SET state = $1, updated_at = $2 WHERE id = $3",
		state,
		time.Now().UTC(),
		gameId,
	)

	return err
}

func (db *PgRepository) DeleteGame(gameId int64) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	_, err = tx.Exec("DELETE FROM game_snapshots WHERE game_id = $1", gameId)
	if err != nil {
		return err
	}

	_, err = tx.Exec("DELETE FROM members WHERE game_id = $1", gameId)
	if err != nil {
		return err
	}

	_, err = tx.Exec("DELETE FROM games WHERE id = $1", gameId)
	if err != nil {
		return err
	}

	return tx.Commit()
}

func (db *PgRepository) CreateSnapshot(snapshot Snapshot) error {
	_, err := db.conn.Exec(
		"INSERT INTO game_snapshots (game_id, state, created_at) VALUES ($1, $2, $3)",
		snapshot.GameId,
		snapshot.State,
		time.Now().UTC(),
	)

	return err
}

func (db *PgRepository) LatestSnapshot(gameId int64) (Snapshot, error) {
	row := db.conn.QueryRow(
		"SELECT id, game_id, state, created_at FROM game_snapshots "+
			"WHERE game_id = $1 ORDER BY created_at DESC LIMIT 1",
		gameId,
	)

	var snap Snapshot
	err := row.Scan(
		&snap.Id,
		&snap.GameId,
		&snap.State,
		&snap.CreatedAt,
	)

	return snap, err
}
