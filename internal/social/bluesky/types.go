package bluesky

import "encoding/json"

type createSessionInput struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

type createSessionOutput struct {
	AccessJwt  string `json:"accessJwt"`
	RefreshJwt string `json:"refreshJwt"`
	Handle     string `json:"handle"`
	Did        string `json:"did"`
}

type strongRef struct {
	URI string `json:"uri"`
	CID string `json:"cid"`
}

type replyRef struct {
	Root   strongRef `json:"root"`
	Parent strongRef `json:"parent"`
}

type profileBasic struct {
	Did    string `json:"did"`
	Handle string `json:"handle"`
}

type feedRecord struct {
	Text      string    `json:"text"`
	CreatedAt string    `json:"createdAt"`
	Reply     *replyRef `json:"reply,omitempty"`
}

type postView struct {
	URI         string       `json:"uri"`
	CID         string       `json:"cid"`
	Author      profileBasic `json:"author"`
	Record      feedRecord   `json:"record"`
	LikeCount   int          `json:"likeCount"`
	RepostCount int          `json:"repostCount"`
	ReplyCount  int          `json:"replyCount"`
	IndexedAt   string       `json:"indexedAt"`
}

type feedViewPost struct {
	Post   postView         `json:"post"`
	Reply  *feedReplyView   `json:"reply,omitempty"`
	Reason *json.RawMessage `json:"reason,omitempty"`
}

type feedReplyView struct {
	Parent postView `json:"parent"`
	Root   postView `json:"root"`
}

type authorFeedOutput struct {
	Feed   []feedViewPost `json:"feed"`
	Cursor string         `json:"cursor,omitempty"`
}

type searchPostsOutput struct {
	Posts  []postView `json:"posts"`
	Cursor string     `json:"cursor,omitempty"`
}

// blobRef is kept opaque; it is echoed back inside the image embed.
type blobRef = json.RawMessage

type uploadBlobOutput struct {
	Blob blobRef `json:"blob"`
}

type embedImage struct {
	Alt   string  `json:"alt"`
	Image blobRef `json:"image"`
}

type imagesEmbed struct {
	Type   string       `json:"$type"`
	Images []embedImage `json:"images"`
}

type postRecord struct {
	Type      string       `json:"$type"`
	Text      string       `json:"text"`
	CreatedAt string       `json:"createdAt"`
	Reply     *replyRef    `json:"reply,omitempty"`
	Embed     *imagesEmbed `json:"embed,omitempty"`
}

type createRecordInput struct {
	Repo       string     `json:"repo"`
	Collection string     `json:"collection"`
	Record     postRecord `json:"record"`
}

type createRecordOutput struct {
	URI string `json:"uri"`
	CID string `json:"cid"`
}
