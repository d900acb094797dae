package core

// Plugin extends the Player, typically with a streaming format engine that
// claims sources published on the load channel. Init runs once when the
// plugin is installed.
type Plugin interface {
	Name() string
	Init(p *Player) error
}

// Destroyer is implemented by plugins holding resources to release when the
// Player is destroyed.
type Destroyer interface {
	Destroy()
}
