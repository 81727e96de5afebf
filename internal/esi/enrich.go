package esi

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"strconv"

	"github.com/fineauth/fineauth/internal/db/models"
	"github.com/tidwall/gjson"
	"golang.org/x/sync/errgroup"
)

// CharacterDetails resolves a character's id, corporation and alliance.
// It is best effort: any failed lookup leaves the matching fields nil and
// never returns an error. characterID <= 0 means "unknown, search by name".
func (c *Client) CharacterDetails(ctx context.Context, name string, characterID int64, opts FetchOptions) models.CharacterDetails {
	var details models.CharacterDetails

	if characterID <= 0 && name != "" {
		id, err := c.SearchCharacterID(ctx, name, opts)
		if err != nil {
			log.Printf("⚠️ [ESI] Character search for %s failed: %v", name, err)
		}
		characterID = id
	}
	if characterID <= 0 {
		return details
	}
	details.CharacterID = &characterID

	body, err := c.GetJSON(ctx, c.URL("characters/"+strconv.FormatInt(characterID, 10)+"/", nil), opts)
	if err != nil {
		log.Printf("⚠️ [ESI] Character %d lookup failed: %v", characterID, err)
		return details
	}
	details.Affiliation = true
	details.CorporationID = positiveInt(gjson.GetBytes(body, "corporation_id"))
	details.AllianceID = positiveInt(gjson.GetBytes(body, "alliance_id"))

	var corporationName, allianceName *string
	g, gctx := errgroup.WithContext(ctx)
	if details.CorporationID != nil {
		id := *details.CorporationID
		g.Go(func() error {
			corporationName = c.lookupName(gctx, "corporations", id, opts)
			return nil
		})
	}
	if details.AllianceID != nil {
		id := *details.AllianceID
		g.Go(func() error {
			allianceName = c.lookupName(gctx, "alliances", id, opts)
			return nil
		})
	}
	_ = g.Wait()

	details.CorporationName = corporationName
	details.AllianceName = allianceName
	return details
}

// SearchCharacterID finds a character id by exact name. Returns 0 when
// nothing matched.
func (c *Client) SearchCharacterID(ctx context.Context, name string, opts FetchOptions) (int64, error) {
	query := url.Values{}
	query.Set("categories", "character")
	query.Set("search", name)
	query.Set("strict", "true")
	body, err := c.GetJSON(ctx, c.URL("search/", query), opts)
	if err != nil {
		return 0, err
	}
	return gjson.GetBytes(body, "character.0").Int(), nil
}

// CharacterName fetches the current name of a character, bypassing the cache.
func (c *Client) CharacterName(ctx context.Context, characterID int64) (string, error) {
	body, err := c.GetJSON(ctx, c.URL("characters/"+strconv.FormatInt(characterID, 10)+"/", nil), FetchOptions{NoCache: true})
	if err != nil {
		return "", err
	}
	name := gjson.GetBytes(body, "name").String()
	if name == "" {
		return "", fmt.Errorf("character %d has no name in ESI response", characterID)
	}
	return name, nil
}

func (c *Client) lookupName(ctx context.Context, kind string, id int64, opts FetchOptions) *string {
	body, err := c.GetJSON(ctx, c.URL(kind+"/"+strconv.FormatInt(id, 10)+"/", nil), opts)
	if err != nil {
		log.Printf("⚠️ [ESI] %s %d lookup failed: %v", kind, id, err)
		return nil
	}
	name := gjson.GetBytes(body, "name").String()
	if name == "" {
		return nil
	}
	return &name
}

func positiveInt(r gjson.Result) *int64 {
	if !r.Exists() || r.Int() <= 0 {
		return nil
	}
	v := r.Int()
	return &v
}
