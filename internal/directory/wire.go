package directory

// Request and response bodies shared by Client and the directory server.

type PublishRequest struct {
	PublicKey []byte `json:"public_key"`
	Suite     string `json:"suite"`
}

type PublishResponse struct {
	Version int `json:"version"`
}

type DeactivateRequest struct {
	BelowVersion int `json:"below_version"`
}

type LatestEpochResponse struct {
	Epoch int `json:"epoch"`
}

type MembersDocument struct {
	Members []string `json:"members"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
