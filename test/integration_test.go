package test

import (
	"net/http"
	"os"
	"strconv"
	"testing"

	"github.com/stretchr/testify/suite"
)

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}

// The suite needs docker. Run with NAVDECK_INTEGRATION_TEST=1 go test ./test/...
func TestIntegrationSuite(t *testing.T) {
	if os.Getenv("NAVDECK_INTEGRATION_TEST") == "" {
		t.Skip("set NAVDECK_INTEGRATION_TEST to run the integration suite")
	}
	suite.Run(t, new(IntegrationTestSuite))
}

type createdResult struct {
	ID int64 `json:"id"`
}

func (s *IntegrationTestSuite) create(path string, body map[string]interface{}) int64 {
	var result createdResult
	status, err := s.admin.RawPost(path, body, &result)
	s.Require().NoError(err)
	s.Require().Equal(http.StatusCreated, status)
	s.Require().NotZero(result.ID)
	return result.ID
}

func (s *IntegrationTestSuite) TestMenuTree() {
	menuID := s.create("/menus", map[string]interface{}{"name": "Development", "icon": "code", "order": 1})
	goID := s.create("/submenus", map[string]interface{}{"name": "Go", "parent_id": menuID, "order": 2})
	s.create("/submenus", map[string]interface{}{"name": "Rust", "parent_id": menuID, "order": 1})
	cardID := s.create("/cards", map[string]interface{}{
		"title": "Go Playground", "url": "https://go.dev/play", "sub_menu_id": goID,
	})

	var menu map[string]interface{}
	status, err := s.client.RawGet("/menus/"+itoa(menuID), &menu)
	s.Require().NoError(err)
	s.Equal(http.StatusOK, status)
	s.Equal("Development", menu["name"])

	subMenus, ok := menu["subMenus"].([]interface{})
	s.Require().True(ok)
	s.Require().Len(subMenus, 2)
	// ordered by the order column, not by insertion
	s.Equal("Rust", subMenus[0].(map[string]interface{})["name"])
	s.Equal("Go", subMenus[1].(map[string]interface{})["name"])

	// the same listing is available as a child route
	var listed []map[string]interface{}
	status, err = s.client.RawGet("/menus/"+itoa(menuID)+"/submenus", &listed)
	s.Require().NoError(err)
	s.Equal(http.StatusOK, status)
	s.Len(listed, 2)

	// a second menu with the same name conflicts
	status, err = s.admin.RawPost("/menus", map[string]interface{}{"name": "Development"}, nil)
	s.Error(err)
	s.Equal(http.StatusConflict, status)

	// deleting the menu cascades through its submenus down to their cards
	status, err = s.admin.RawDelete("/menus/" + itoa(menuID))
	s.Require().NoError(err)
	s.Equal(http.StatusOK, status)

	var remaining []map[string]interface{}
	_, err = s.client.RawGet("/submenus?parentId="+itoa(menuID), &remaining)
	s.Require().NoError(err)
	s.Len(remaining, 0)

	status, err = s.client.RawGet("/cards/"+itoa(cardID), nil)
	s.Error(err)
	s.Equal(http.StatusNotFound, status)
}

func (s *IntegrationTestSuite) TestCardScoping() {
	menuID := s.create("/menus", map[string]interface{}{"name": "Reading", "order": 2})
	subMenuID := s.create("/submenus", map[string]interface{}{"name": "Blogs", "parent_id": menuID})

	s.create("/cards", map[string]interface{}{
		"title": "HN", "url": "https://news.ycombinator.com", "menu_id": menuID, "order": 1,
	})
	s.create("/cards", map[string]interface{}{
		"title": "Go Blog", "url": "https://go.dev/blog", "sub_menu_id": subMenuID, "order": 1,
	})
	s.create("/cards", map[string]interface{}{
		"title": "Rust Blog", "url": "https://blog.rust-lang.org", "sub_menu_id": subMenuID,
		"logo_url": "https://blog.rust-lang.org/logo.png", "order": 2,
	})

	// menuId returns only cards directly under the menu
	var direct []map[string]interface{}
	status, err := s.client.RawGet("/cards?menuId="+itoa(menuID), &direct)
	s.Require().NoError(err)
	s.Equal(http.StatusOK, status)
	s.Require().Len(direct, 1)
	s.Equal("HN", direct[0]["title"])
	// no logo configured, the favicon fallback kicks in
	s.Equal("https://news.ycombinator.com/favicon.ico", direct[0]["display_logo"])

	// subMenuId returns the grouped cards
	var grouped []map[string]interface{}
	_, err = s.client.RawGet("/cards?subMenuId="+itoa(subMenuID), &grouped)
	s.Require().NoError(err)
	s.Require().Len(grouped, 2)
	s.Equal("https://blog.rust-lang.org/logo.png", grouped[1]["display_logo"])

	// pagination envelope
	var page struct {
		Total    int                      `json:"total"`
		Page     int                      `json:"page"`
		PageSize int                      `json:"pageSize"`
		Data     []map[string]interface{} `json:"data"`
	}
	_, err = s.client.RawGet("/cards?subMenuId="+itoa(subMenuID)+"&page=1&pageSize=1", &page)
	s.Require().NoError(err)
	s.Equal(2, page.Total)
	s.Equal(1, page.Page)
	s.Equal(1, page.PageSize)
	s.Len(page.Data, 1)

	// pageSize=all returns everything and reports the true size
	_, err = s.client.RawGet("/cards?subMenuId="+itoa(subMenuID)+"&pageSize=all", &page)
	s.Require().NoError(err)
	s.Equal(2, page.Total)
	s.Equal(2, page.PageSize)
	s.Len(page.Data, 2)
}

func (s *IntegrationTestSuite) TestPagination() {
	menuID := s.create("/menus", map[string]interface{}{"name": "Archive"})
	for i := 1; i <= 25; i++ {
		s.create("/submenus", map[string]interface{}{
			"name": "Year " + strconv.Itoa(2000+i), "parent_id": menuID, "order": i,
		})
	}

	var page struct {
		Total    int                      `json:"total"`
		Page     int                      `json:"page"`
		PageSize int                      `json:"pageSize"`
		Data     []map[string]interface{} `json:"data"`
	}
	_, err := s.client.RawGet("/submenus?parentId="+itoa(menuID)+"&page=2&pageSize=10", &page)
	s.Require().NoError(err)
	s.Equal(25, page.Total)
	s.Equal(2, page.Page)
	s.Require().Len(page.Data, 10)
	// page 2 starts after the first ten ordered rows
	s.Equal("Year 2011", page.Data[0]["name"])

	// the last page is short
	_, err = s.client.RawGet("/submenus?parentId="+itoa(menuID)+"&page=3&pageSize=10", &page)
	s.Require().NoError(err)
	s.Len(page.Data, 5)

	// pageSize=all reports the true size
	_, err = s.client.RawGet("/submenus?parentId="+itoa(menuID)+"&pageSize=all", &page)
	s.Require().NoError(err)
	s.Equal(25, page.Total)
	s.Equal(25, page.PageSize)
	s.Len(page.Data, 25)
}

func (s *IntegrationTestSuite) TestFriendMergeUpdate() {
	friendID := s.create("/friends", map[string]interface{}{
		"title": "gopher", "url": "https://gopher.example.com",
	})

	// partial update keeps the fields it does not mention
	status, err := s.admin.RawPut("/friends/"+itoa(friendID), map[string]interface{}{
		"logo": "https://gopher.example.com/logo.png",
	}, nil)
	s.Require().NoError(err)
	s.Equal(http.StatusOK, status)

	var friend map[string]interface{}
	_, err = s.client.RawGet("/friends/"+itoa(friendID), &friend)
	s.Require().NoError(err)
	s.Equal("gopher", friend["title"])
	s.Equal("https://gopher.example.com", friend["url"])
	s.Equal("https://gopher.example.com/logo.png", friend["logo"])

	// the url is unique across friends
	status, err = s.admin.RawPost("/friends", map[string]interface{}{
		"title": "impostor", "url": "https://gopher.example.com",
	}, nil)
	s.Error(err)
	s.Equal(http.StatusConflict, status)
}

func (s *IntegrationTestSuite) TestAds() {
	s.create("/ads", map[string]interface{}{
		"position": "banner", "img": "https://cdn.example.com/ad.png", "url": "https://example.com",
	})

	var ads []map[string]interface{}
	status, err := s.client.RawGet("/ads", &ads)
	s.Require().NoError(err)
	s.Equal(http.StatusOK, status)
	s.Require().NotEmpty(ads)
	s.Equal("banner", ads[0]["position"])
}

func (s *IntegrationTestSuite) TestLoginFlow() {
	// bad password
	status, err := s.client.RawPost("/login", map[string]string{
		"username": adminUser, "password": "wrong",
	}, nil)
	s.Error(err)
	s.Equal(http.StatusUnauthorized, status)

	// first login
	var login struct {
		Token         string  `json:"token"`
		LastLoginTime *string `json:"lastLoginTime"`
	}
	status, err = s.client.RawPost("/login", map[string]string{
		"username": adminUser, "password": adminPassword,
	}, &login)
	s.Require().NoError(err)
	s.Equal(http.StatusOK, status)
	s.Require().NotEmpty(login.Token)
	s.Nil(login.LastLoginTime)

	me := s.client.WithToken(login.Token)

	var profile map[string]interface{}
	_, err = me.RawGet("/user/profile", &profile)
	s.Require().NoError(err)
	s.Equal(adminUser, profile["username"])

	// second login reports the first one
	status, err = s.client.RawPost("/login", map[string]string{
		"username": adminUser, "password": adminPassword,
	}, &login)
	s.Require().NoError(err)
	s.Equal(http.StatusOK, status)
	s.Require().NotNil(login.LastLoginTime)

	// change the password and log in with the new one
	status, err = me.RawPut("/user/password", map[string]string{
		"oldPassword": adminPassword, "newPassword": "changed-secret",
	}, nil)
	s.Require().NoError(err)
	s.Equal(http.StatusOK, status)

	status, err = s.client.RawPost("/login", map[string]string{
		"username": adminUser, "password": "changed-secret",
	}, &login)
	s.Require().NoError(err)
	s.Equal(http.StatusOK, status)

	// restore for the other tests
	_, err = me.RawPut("/user/password", map[string]string{
		"oldPassword": "changed-secret", "newPassword": adminPassword,
	}, nil)
	s.Require().NoError(err)

	// the account listing requires a token and hides the hash
	var users []map[string]interface{}
	status, err = s.client.RawGet("/users", &users)
	s.Error(err)
	s.Equal(http.StatusUnauthorized, status)

	_, err = me.RawGet("/users", &users)
	s.Require().NoError(err)
	s.Require().NotEmpty(users)
	s.NotContains(users[0], "password")
}
