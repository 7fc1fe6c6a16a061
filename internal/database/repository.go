package database

type Repository interface {
	Ping() error
	CreateAccount(params CreateAccountParams) (User, error)
	GetAccountById(accountId int) (User, error)
	GetAccountByUsername(username string) (User, error)
	CreateGame(params CreateGameParams) (Game, error)
	GetGameById(gameId int64) (Game, error)
	GetGameWithMembers(gameId int64) (*Game, error)
	AddMember(params AddMemberParams) (Member, error)
	UpdateGameState(gameId int64, state string) error
	DeleteGame(gameId int64) error
	CreateSnapshot(snapshot Snapshot) error
	LatestSnapshot(gameId int64) (Snapshot, error)
}
